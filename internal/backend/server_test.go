package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/po-matcher/internal/scanning"
)

type formPart struct {
	field    string
	filename string
	data     []byte
}

func multipartRequest(method, url string, parts ...formPart) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, p := range parts {
		part, err := writer.CreateFormFile(p.field, p.filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(p.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest(method, url, &body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	pdf := []byte("%PDF-1.4 test")

	BeforeEach(func() {
		scanner = newMockScanner()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(scanner, nil, &sequentialIDs{}, &manualClock{now: time.Now()})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.RouteToHandler("POST", "/extract_preview", server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", "/submit_job", server.ServeHTTP)
		ghttpServer.RouteToHandler("GET", regexp.MustCompile(`^/status/`), server.ServeHTTP)
		ghttpServer.RouteToHandler("OPTIONS", regexp.MustCompile(`^/`), server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
		service.Close()
	})

	Describe("POST /extract_preview", func() {
		It("returns the preview", func() {
			resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/extract_preview",
				formPart{field: "file", filename: "inv.pdf", data: pdf}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(decodeBody(resp)).To(Equal(map[string]any{"document_id": "DOC-1", "vendor_name": "Acme"}))
		})

		It("requires a file", func() {
			resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/extract_preview",
				formPart{field: "other", filename: "inv.pdf", data: pdf}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "No file uploaded"))
		})

		It("rejects a body that is not multipart", func() {
			resp, err := http.Post(ghttpServer.URL()+"/extract_preview", "application/json", bytes.NewBufferString("{}"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("answers 500 for unsupported files", func() {
			resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/extract_preview",
				formPart{field: "file", filename: "notes.txt", data: []byte("hello")}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "Extraction failed: Unsupported file format."))
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.errs[scanning.DocumentGeneric] = errors.New("quota exceeded")
			})

			It("answers 500 with the error", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/extract_preview",
					formPart{field: "file", filename: "inv.pdf", data: pdf}))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "AI Parsing failed: quota exceeded"))
			})
		})
	})

	Describe("POST /submit_job", func() {
		It("accepts the job", func() {
			resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/submit_job",
				formPart{field: "invoice_file", filename: "inv.pdf", data: pdf},
				formPart{field: "po_file", filename: "po.pdf", data: pdf}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(decodeBody(resp)).To(Equal(map[string]any{"job_id": "job-1"}))
		})

		It("requires both files", func() {
			resp, err := http.DefaultClient.Do(multipartRequest("POST", ghttpServer.URL()+"/submit_job",
				formPart{field: "invoice_file", filename: "inv.pdf", data: pdf}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "Both 'invoice_file' and 'po_file' are required."))
		})
	})

	Describe("GET /status/{job_id}", func() {
		It("returns 404 for unknown jobs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/status/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeBody(resp)).To(Equal(map[string]any{"error": "Job not found"}))
		})

		It("returns the results of a completed job", func() {
			id, err := service.Submit(Upload{Filename: "inv.pdf", Data: pdf}, Upload{Filename: "po.pdf", Data: pdf})
			Expect(err).NotTo(HaveOccurred())
			service.Wait()

			resp, err := http.Get(ghttpServer.URL() + "/status/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			Expect(body).To(HaveKeyWithValue("status", "completed"))
			Expect(body).To(HaveKeyWithValue("progress", BeNumerically("==", 100)))
			results, ok := body["results"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(results).To(HaveKeyWithValue("isMatch", true))
			Expect(results).To(HaveKeyWithValue("status", "APPROVED"))
			Expect(results).To(HaveKey("summary"))
			Expect(results).To(HaveKey("details"))
			Expect(results).To(HaveKey("mismatch_categories"))
			Expect(results).To(HaveKey("invoice_data"))
			Expect(results).To(HaveKey("po_data"))
		})

		It("returns 500 for a failed job", func() {
			id, err := service.Submit(Upload{Filename: "inv.txt", Data: []byte("x")}, Upload{Filename: "po.pdf", Data: pdf})
			Expect(err).NotTo(HaveOccurred())
			service.Wait()

			resp, err := http.Get(ghttpServer.URL() + "/status/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			body := decodeBody(resp)
			Expect(body).To(HaveKeyWithValue("status", "failed"))
			Expect(body).To(HaveKeyWithValue("progress", BeNumerically("==", 100)))
			Expect(body).To(HaveKeyWithValue("error", ContainSubstring("Unsupported file format.")))
		})

		When("the job is still running", func() {
			BeforeEach(func() {
				scanner.gate = make(chan struct{})
			})

			It("returns the progress", func() {
				id, err := service.Submit(Upload{Filename: "inv.pdf", Data: pdf}, Upload{Filename: "po.pdf", Data: pdf})
				Expect(err).NotTo(HaveOccurred())

				Eventually(func() map[string]any {
					resp, err := http.Get(ghttpServer.URL() + "/status/" + id)
					Expect(err).NotTo(HaveOccurred())
					return decodeBody(resp)
				}).Should(HaveKeyWithValue("progress", BeNumerically("==", ProgressPurchaseOrderRead)))
			})
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/submit_job", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/status/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/status/nope", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("routing", func() {
		It("rejects the wrong method", func() {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/submit_job", nil))
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})
})
