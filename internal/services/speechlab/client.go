package speechlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"overdub/internal/config"
	"overdub/internal/queue"
	"overdub/internal/services"
)

const component = "speechlab"

// Client talks to the speech transformation service.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	retryAttempts int
	retryBackoff  time.Duration
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithRetry configures transient-error retries per request.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// New creates a client for the given service base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, services.Wrap(services.ErrValidation, component, "new", "base URL is required", nil)
	}
	client := &Client{
		baseURL:       trimmed,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		retryAttempts: 3,
		retryBackoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the speechlab configuration section.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	timeout := time.Duration(cfg.Speechlab.RequestTimeout) * time.Second
	return New(
		cfg.Speechlab.BaseURL,
		WithAPIKey(cfg.Speechlab.APIKey),
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRetry(cfg.Speechlab.RetryAttempts, time.Duration(cfg.Speechlab.RetryBackoffMS)*time.Millisecond),
	)
}

// JobState is the remote lifecycle of a submitted job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateDone       JobState = "done"
	StateFailed     JobState = "failed"
)

// StatusResponse is the service's answer to a status poll.
type StatusResponse struct {
	ID      string   `json:"id"`
	State   JobState `json:"state"`
	Detail  string   `json:"detail,omitempty"`
	Percent int      `json:"percent,omitempty"`
}

// Result is the fetched output of a completed job.
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}

type submitResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitDub uploads source media and starts a dubbing job. The returned id is
// the service-side identifier used for all later polling.
func (c *Client) SubmitDub(ctx context.Context, params queue.DubParams) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	file, err := os.Open(params.InputPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "submit_dub", "open source media", err)
	}
	defer file.Close()

	name := params.OriginalFilename
	if name == "" {
		name = filepath.Base(params.InputPath)
	}
	part, err := writer.CreateFormFile("media", name)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "submit_dub", "build upload form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "submit_dub", "copy source media", err)
	}

	fields := map[string]string{
		"target_language": params.TargetLanguage,
	}
	if params.SourceLanguage != "" {
		fields["source_language"] = params.SourceLanguage
	}
	if params.PreserveBackgroundAudio {
		fields["preserve_background_audio"] = "true"
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", services.Wrap(services.ErrTransient, component, "submit_dub", "write form field", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "submit_dub", "finalize upload form", err)
	}

	var resp submitResponse
	err = c.do(ctx, http.MethodPost, "/v1/dubs", writer.FormDataContentType(), body.Bytes(), &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", services.Wrap(services.ErrTransient, component, "submit_dub", "service returned no job id", nil)
	}
	return resp.ID, nil
}

// SubmitExport starts an export render job from already-hosted source material.
func (c *Client) SubmitExport(ctx context.Context, kind queue.Kind, params queue.ExportParams) (string, error) {
	payload := map[string]any{
		"format":        exportFormat(kind),
		"audio_url":     params.AudioURL,
		"transcript_id": params.TranscriptID,
	}
	if params.TemplateID != "" {
		payload["template_id"] = params.TemplateID
	}
	if params.Manifest != nil {
		payload["manifest"] = params.Manifest
	}
	if len(params.Style) > 0 {
		payload["style"] = params.Style
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "submit_export", "encode export request", err)
	}

	var resp submitResponse
	err = c.do(ctx, http.MethodPost, "/v1/exports", "application/json", encoded, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", services.Wrap(services.ErrTransient, component, "submit_export", "service returned no job id", nil)
	}
	return resp.ID, nil
}

func exportFormat(kind queue.Kind) string {
	if kind == queue.KindExportVideo {
		return "video"
	}
	return "audio"
}

// PollStatus fetches the current remote state of a job.
func (c *Client) PollStatus(ctx context.Context, externalID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+externalID, "", nil, &resp)
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// FetchResult downloads the finished media for a done job. Transient failures
// retry with the same policy as submit and poll.
func (c *Client) FetchResult(ctx context.Context, externalID string) (*Result, error) {
	var result *Result
	err := c.withRetry(ctx, func() error {
		fetched, fetchErr := c.fetchOnce(ctx, externalID)
		if fetchErr != nil {
			return fetchErr
		}
		result = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) fetchOnce(ctx context.Context, externalID string) (*Result, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/jobs/"+externalID+"/result", "", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "fetch_result", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("fetch_result", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "fetch_result", "read result body", err)
	}

	result := &Result{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if result.ContentType == "" {
		result.ContentType = "application/octet-stream"
	}
	return result, nil
}

func filenameFromDisposition(value string) string {
	const marker = "filename="
	idx := strings.Index(value, marker)
	if idx < 0 {
		return ""
	}
	name := value[idx+len(marker):]
	name = strings.Trim(name, `" `)
	if semi := strings.IndexByte(name, ';'); semi >= 0 {
		name = strings.TrimSpace(name[:semi])
	}
	return name
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "request", "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do performs a JSON request with transient retries and fixed backoff.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	return c.withRetry(ctx, func() error {
		return c.doOnce(ctx, method, path, contentType, body, out)
	})
}

// withRetry runs op up to the configured attempt count, sleeping the fixed
// backoff between tries. Non-retryable errors surface immediately.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	attempts := c.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return services.Wrap(services.ErrTransient, component, "request", "canceled during retry backoff", ctx.Err())
			case <-time.After(c.retryBackoff):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !services.Retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "request", method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError("request", resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, component, "request", "decode response", err)
	}
	return nil
}

func (c *Client) statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		detail = parsed.Error
	}
	msg := fmt.Sprintf("service returned %d", resp.StatusCode)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	marker := services.ErrTransient
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		marker = services.ErrValidation
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		marker = services.ErrTransient
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		marker = services.ErrPermanent
	}
	return services.Wrap(marker, component, operation, msg, nil)
}
