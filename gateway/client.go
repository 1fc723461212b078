// Package gateway issues every outbound HTTP call to the pipeline backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Client is a typed wrapper around the backend REST API.
type Client struct {
	baseURL   string
	streamURL string
	http      *http.Client
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. Ordinary calls carry no timeout
// unless the supplied client sets one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamURL overrides the changelog stream endpoint, for deployments
// that serve it from a different host.
func WithStreamURL(u string) Option {
	return func(c *Client) { c.streamURL = u }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client rooted at baseURL, e.g. http://localhost:8080/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamURL == "" {
		c.streamURL = c.baseURL + "/changelog/stream"
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL returns the changelog server-push endpoint.
func (c *Client) StreamURL() string { return c.streamURL }

// HTTPClient returns the underlying transport, shared with stream readers.
func (c *Client) HTTPClient() *http.Client { return c.http }

// File is a named payload for multipart stages.
type File struct {
	Name   string
	Reader io.Reader
}

// OpenFile opens path for upload. The caller closes the returned file.
func OpenFile(path string) (File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Reader: f}, f, nil
}

// Generate asks the backend to create count synthetic records as Excel.
func (c *Client) Generate(ctx context.Context, count int) (*GenerateResult, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	var out GenerateResult
	if err := c.doJSON(ctx, "generate", http.MethodPost, "/generate", q, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Process uploads an Excel file for conversion to CSV.
func (c *Client) Process(ctx context.Context, file File) (*ProcessResult, error) {
	var out ProcessResult
	if err := c.doMultipart(ctx, "process", "/process", file, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends a CSV file to be loaded into the database.
func (c *Client) Upload(ctx context.Context, file File) (*UploadResult, error) {
	var out UploadResult
	if err := c.doMultipart(ctx, "upload", "/upload", file, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStudents returns one page of persisted records.
func (c *Client) ListStudents(ctx context.Context, sq StudentQuery) (*StudentPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(sq.Page))
	q.Set("size", strconv.Itoa(sq.Size))
	if sq.Search != "" {
		q.Set("search", sq.Search)
	}
	if sq.Class != "" {
		q.Set("class", sq.Class)
	}
	var out StudentPage
	if err := c.doJSON(ctx, "list students", http.MethodGet, "/students", q, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListClasses returns every known class name.
func (c *Client) ListClasses(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.doJSON(ctx, "list classes", http.MethodGet, "/students/classes", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyticsSummary returns aggregate statistics.
func (c *Client) AnalyticsSummary(ctx context.Context) (*Analytics, error) {
	var out Analytics
	if err := c.doJSON(ctx, "analytics summary", http.MethodGet, "/analytics/summary", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads the filtered records as an opaque blob. The caller closes
// the returned body.
func (c *Client) Export(ctx context.Context, format ExportFormat, filter ExportFilter) (io.ReadCloser, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Class != "" {
		q.Set("class", filter.Class)
	}
	op := "export " + string(format)
	resp, err := c.do(ctx, op, http.MethodGet, "/students/export/"+string(format), q, nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Notifications lists every notification.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := c.doJSON(ctx, "notifications", http.MethodGet, "/notifications", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount returns the number of unread notifications.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out int
	if err := c.doJSON(ctx, "unread count", http.MethodGet, "/notifications/unread-count", nil, nil, "", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// MarkRead marks one notification as read.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := "/notifications/" + strconv.FormatInt(id, 10) + "/read"
	return c.doJSON(ctx, "mark read", http.MethodPost, path, nil, nil, "", nil)
}

// MarkAllRead marks every notification as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.doJSON(ctx, "mark all read", http.MethodPost, "/notifications/read-all", nil, nil, "", nil)
}

// SubmitFeatureRequest posts a feature request.
func (c *Client) SubmitFeatureRequest(ctx context.Context, fr FeatureRequest) error {
	body, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("marshal feature request: %w", err)
	}
	return c.doJSON(ctx, "feature request", http.MethodPost, "/feature-requests", nil, bytes.NewReader(body), "application/json", nil)
}

// Changelog lists entries, optionally narrowed to one component.
func (c *Client) Changelog(ctx context.Context, component Component) ([]ChangelogEntry, error) {
	q := url.Values{}
	if component != "" {
		q.Set("component", string(component))
	}
	var out []ChangelogEntry
	if err := c.doJSON(ctx, "changelog", http.MethodGet, "/changelog", q, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, op, method, path, q, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) doMultipart(ctx context.Context, op, path string, file File, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", file.Name)
		if err == nil {
			_, err = io.Copy(part, file.Reader)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	err := c.doJSON(ctx, op, http.MethodPost, path, nil, pr, mw.FormDataContentType(), out)
	pr.Close()
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.String("url", u), zap.Error(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: parseErrorBody(raw)}
		c.logger.Debug("request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("message", apiErr.Message))
		return nil, apiErr
	}
	return resp, nil
}
