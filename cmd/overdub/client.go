package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// apiClient is a thin HTTP client for the daemon's admin API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type jobView struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	ExternalJobID string `json:"externalJobId"`
	ResultURL     string `json:"resultUrl"`
	ProcessingMS  int64  `json:"processingMs"`
	Error         *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type statusView struct {
	Running     bool           `json:"running"`
	QueueDBPath string         `json:"queueDbPath"`
	Jobs        map[string]int `json:"jobs"`
}

type healthView struct {
	Ready bool           `json:"ready"`
	Queue map[string]int `json:"queue"`
}

type countView struct {
	Count int64 `json:"count"`
}

func (c *apiClient) Status(ctx context.Context) (statusView, error) {
	var out statusView
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

func (c *apiClient) Health(ctx context.Context) (healthView, error) {
	var out healthView
	err := c.get(ctx, "/healthz", &out)
	return out, err
}

func (c *apiClient) ListJobs(ctx context.Context, status string) ([]jobView, error) {
	path := "/v1/jobs"
	if status != "" {
		path += "?status=" + status
	}
	var out struct {
		Jobs []jobView `json:"jobs"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *apiClient) GetJob(ctx context.Context, id string) (jobView, error) {
	var out jobView
	err := c.get(ctx, "/v1/jobs/"+id, &out)
	return out, err
}

func (c *apiClient) RetryJobs(ctx context.Context, ids []string) (int64, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return 0, err
	}
	var out countView
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/retry", body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *apiClient) ResetStuckJobs(ctx context.Context) (int64, error) {
	var out countView
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/reset-stuck", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *apiClient) RemoveJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+id, nil, nil)
}

func (c *apiClient) ClearJobs(ctx context.Context, scope string) (int64, error) {
	path := "/v1/jobs"
	if scope != "" {
		path += "?scope=" + scope
	}
	var out countView
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon answered %d: %s", resp.StatusCode, apiErrorMessage(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiErrorMessage(body io.Reader) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func wrapDialError(err error, base string) error {
	var netErr *net.OpError
	if errors.As(err, &netErr) && errors.Is(netErr.Err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `overdubd`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
