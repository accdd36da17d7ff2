package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/googleapi"
)

// pngHeader is enough of a PNG for content sniffing
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

var _ = Describe("DetectContentType", func() {
	DescribeTable("supported files",
		func(filename, declared string, data []byte, expected string) {
			ct, err := DetectContentType(filename, declared, data)
			Expect(err).NotTo(HaveOccurred())
			Expect(ct).To(Equal(expected))
		},
		Entry("pdf by extension", "invoice.PDF", "", []byte("%PDF-1.4"), "application/pdf"),
		Entry("jpeg by extension", "scan.jpeg", "application/octet-stream", nil, "image/jpeg"),
		Entry("heic by extension", "IMG_0001.HEIC", "", nil, "image/heic"),
		Entry("declared type", "upload", "image/png; charset=binary", nil, "image/png"),
		Entry("sniffed pdf", "upload", "application/octet-stream", []byte("%PDF-1.7\n"), "application/pdf"),
		Entry("sniffed png", "upload", "", pngHeader, "image/png"),
		Entry("heic brand", "upload", "", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), "image/heic"),
	)

	It("rejects anything else", func() {
		_, err := DetectContentType("notes.txt", "text/plain", []byte("hello"))
		Expect(err).To(MatchError(ErrUnsupportedFormat))
		Expect(err.Error()).To(Equal("Unsupported file format."))
	})
})

var _ = Describe("Static", func() {
	var scanner *Static

	BeforeEach(func() {
		scanner = NewStatic(0)
	})

	It("returns the sample invoice", func() {
		doc, err := scanner.ScanDocument(context.Background(), nil, "application/pdf", DocumentInvoice)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.DocumentID).To(Equal("INV-2024-001"))
		Expect(doc.VendorName).To(Equal("TechSupply Co."))
		Expect(doc.TotalAmount).To(Equal(1295.00))
		Expect(doc.Items).To(HaveLen(1))
	})

	It("returns the sample purchase order", func() {
		doc, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentPurchaseOrder)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.DocumentID).To(Equal("PO-2024-001"))
	})

	It("returns copies", func() {
		doc, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentInvoice)
		Expect(err).NotTo(HaveOccurred())
		doc.Items[0].Quantity = 99

		again, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentInvoice)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Items[0].Quantity).To(Equal(1.0))
	})

	It("rejects unsupported content", func() {
		_, err := scanner.ScanDocument(context.Background(), nil, "text/plain", DocumentInvoice)
		Expect(err).To(MatchError(ErrUnsupportedFormat))
	})

	It("honours cancellation while delayed", func() {
		scanner = NewStatic(time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := scanner.ScanDocument(ctx, nil, "image/png", DocumentInvoice)
		Expect(err).To(MatchError(context.Canceled))
	})
})

type flakyScanner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyScanner) ScanDocument(ctx context.Context, data []byte, contentType, docType string) (*DocumentData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &DocumentData{DocumentType: docType, DocumentID: "OK"}, nil
}

func (f *flakyScanner) Close() error { return nil }

var _ = Describe("Retrying", func() {
	var (
		inner   *flakyScanner
		scanner *Retrying
	)

	BeforeEach(func() {
		inner = &flakyScanner{}
		scanner = NewRetrying(inner, WithBackoff(time.Millisecond, 5*time.Millisecond))
	})

	It("retries overload until it succeeds", func() {
		inner.errs = []error{
			&googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"},
			&googleapi.Error{Code: http.StatusServiceUnavailable, Message: "busy"},
		}
		doc, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentInvoice)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.DocumentID).To(Equal("OK"))
		Expect(inner.calls).To(Equal(3))
	})

	It("gives up after five attempts", func() {
		for i := 0; i < 10; i++ {
			inner.errs = append(inner.errs, errors.New("rpc error: code = UNAVAILABLE"))
		}
		_, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentInvoice)
		Expect(err).To(MatchError(ContainSubstring("after 5 attempts")))
		Expect(err).To(MatchError(ContainSubstring("UNAVAILABLE")))
		Expect(inner.calls).To(Equal(5))
	})

	It("does not retry other failures", func() {
		inner.errs = []error{&googleapi.Error{Code: http.StatusBadRequest, Message: "bad image"}}
		_, err := scanner.ScanDocument(context.Background(), nil, "image/png", DocumentInvoice)
		Expect(err).To(HaveOccurred())
		Expect(inner.calls).To(Equal(1))
	})
})

var _ = Describe("Overloaded", func() {
	DescribeTable("classifies provider errors",
		func(err error, expected bool) {
			Expect(Overloaded(err)).To(Equal(expected))
		},
		Entry("googleapi 429", &googleapi.Error{Code: 429}, true),
		Entry("googleapi 503", &googleapi.Error{Code: 503}, true),
		Entry("googleapi 500", &googleapi.Error{Code: 500}, false),
		Entry("ollama 503", &ProviderError{Provider: "ollama", Code: 503}, true),
		Entry("resource exhausted text", errors.New("RESOURCE_EXHAUSTED: try later"), true),
		Entry("other", errors.New("bad request"), false),
	)
})

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		scanner, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends the prompt with the image and parses the answer", func() {
		answer := `{"document_type": "Invoice", "document_id": "INV-1", "vendor_name": "Acme", "total_amount": 12.5, "items": []}`
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/api/chat"),
			func(w http.ResponseWriter, r *http.Request) {
				var req ollamaChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Model).To(Equal("llava"))
				Expect(req.Format).To(Equal("json"))
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Content).To(ContainSubstring(`"document_type": "Invoice"`))
				Expect(req.Messages[1].Images).To(HaveLen(1))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: answer},
				Done:    true,
			}),
		))

		doc, err := scanner.ScanDocument(context.Background(), pngHeader, "image/png", DocumentInvoice)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.DocumentID).To(Equal("INV-1"))
		Expect(doc.TotalAmount).To(Equal(12.5))
	})

	It("reports provider errors with their status", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "model loading"))

		_, err := scanner.ScanDocument(context.Background(), pngHeader, "image/png", DocumentInvoice)
		var providerErr *ProviderError
		Expect(errors.As(err, &providerErr)).To(BeTrue())
		Expect(providerErr.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(Overloaded(err)).To(BeTrue())
	})

	It("rejects unsupported content before calling the API", func() {
		_, err := scanner.ScanDocument(context.Background(), []byte("hello"), "text/plain", DocumentInvoice)
		Expect(err).To(MatchError(ErrUnsupportedFormat))
		Expect(server.ReceivedRequests()).To(BeEmpty())
	})
})
