package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made by the client
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read
const maxResponseSize = 10 << 20

const (
	opPreview = "extract preview"
	opSubmit  = "submit job"
	opStatus  = "check status"
)

// Client implements the document matching wire protocol over HTTP
type Client struct {
	baseURL  string
	client   *http.Client
	username string
	password string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.client.Timeout = d
	}
}

// WithBasicAuth sends basic auth credentials with every request
func WithBasicAuth(username, password string) Option {
	return func(cl *Client) {
		cl.username = username
		cl.password = password
	}
}

// NewClient creates a Client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https: %s", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PreviewExtract uploads a single file and returns its document id and vendor
func (c *Client) PreviewExtract(ctx context.Context, file File) (*Preview, error) {
	body, contentType, err := multipartBody(formFile{field: "file", file: file})
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", opPreview, err)
	}

	resp, err := c.post(ctx, opPreview, "/extract_preview", body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, &TransportError{Op: opPreview, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := errorField(data)
		if msg == "" {
			msg = "preview extraction failed"
		}
		return nil, &StatusError{Op: opPreview, Code: resp.StatusCode, Message: msg}
	}

	var preview Preview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", opPreview, ErrMalformedResponse, err)
	}
	return &preview, nil
}

// SubmitJob uploads both documents and returns the id of the accepted job
func (c *Client) SubmitJob(ctx context.Context, invoice, po File) (string, error) {
	body, contentType, err := multipartBody(
		formFile{field: "invoice_file", file: invoice},
		formFile{field: "po_file", file: po},
	)
	if err != nil {
		return "", fmt.Errorf("%s: building request: %w", opSubmit, err)
	}

	resp, err := c.post(ctx, opSubmit, "/submit_job", body, contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return "", &TransportError{Op: opSubmit, Err: err}
	}

	if resp.StatusCode != http.StatusAccepted {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &StatusError{Op: opSubmit, Code: resp.StatusCode, Message: msg}
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &accepted); err != nil {
		return "", fmt.Errorf("%s: %w: %v", opSubmit, ErrMalformedResponse, err)
	}
	if accepted.JobID == "" {
		return "", fmt.Errorf("%s: %w: missing job_id", opSubmit, ErrMalformedResponse)
	}
	return accepted.JobID, nil
}

// CheckStatus fetches the current state of a job
func (c *Client) CheckStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", opStatus, err)
	}

	resp, err := c.do(req, opStatus)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, &TransportError{Op: opStatus, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusInternalServerError:
		msg := errorField(data)
		if msg == "" {
			msg = "job failed"
		}
		return nil, &StatusError{Op: opStatus, Code: resp.StatusCode, Message: msg}
	default:
		return nil, &StatusError{Op: opStatus, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var status JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", opStatus, ErrMalformedResponse, err)
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, op, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

type formFile struct {
	field string
	file  File
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(files ...formFile) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.file.Name)))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.field), quoteEscaper.Replace(f.file.Name)))
		h.Set("Content-Type", contentType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating form part %s: %w", f.field, err)
		}
		if _, err := part.Write(f.file.Data); err != nil {
			return nil, "", fmt.Errorf("writing form part %s: %w", f.field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

// errorField extracts the "error" member of a JSON error body
func errorField(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Error)
}
