package backend

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/po-matcher/internal/scanning"
)

var _ = Describe("BoltCache", func() {
	var (
		dbPath string
		cache  *BoltCache
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		cache, err = NewBoltCache(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if cache != nil {
			cache.Close()
		}
	})

	It("returns nil for a missing key", func() {
		doc, err := cache.Get("missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(BeNil())
	})

	It("stores and loads documents", func() {
		doc := &scanning.DocumentData{
			DocumentType: scanning.DocumentInvoice,
			DocumentID:   "INV-1",
			VendorName:   "Acme",
			TotalAmount:  42.5,
			Items:        []scanning.LineItem{{Description: "Widget", Quantity: 2, UnitPrice: 21.25}},
		}
		Expect(cache.Put("key", doc)).To(Succeed())

		loaded, err := cache.Get("key")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(doc))
	})

	It("persists across reopen", func() {
		Expect(cache.Put("key", &scanning.DocumentData{DocumentID: "PO-9"})).To(Succeed())
		Expect(cache.Close()).To(Succeed())

		var err error
		cache, err = NewBoltCache(dbPath)
		Expect(err).NotTo(HaveOccurred())

		loaded, err := cache.Get("key")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.DocumentID).To(Equal("PO-9"))
	})
})

var _ = Describe("CacheKey", func() {
	It("depends on content and document type", func() {
		a := CacheKey([]byte("same"), scanning.DocumentInvoice)
		Expect(a).To(Equal(CacheKey([]byte("same"), scanning.DocumentInvoice)))
		Expect(a).NotTo(Equal(CacheKey([]byte("same"), scanning.DocumentPurchaseOrder)))
		Expect(a).NotTo(Equal(CacheKey([]byte("other"), scanning.DocumentInvoice)))
		Expect(a).To(HaveSuffix(":Invoice"))
	})
})
