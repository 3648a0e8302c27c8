// Package meshy talks to the remote image-to-3D generation API.
package meshy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"recollector/api/models"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// maxErrorBody caps how much of a failed response is kept in an error.
const maxErrorBody = 4 << 10

// Job is the translated result of one poll.
type Job struct {
	Status   Status
	Progress int
	ModelURL string
	Error    string
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, whose timeout is the
// per-request limit.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	ImageURL string `json:"image_url"`
	models.Options
}

type submitResponse struct {
	Result string `json:"result"`
}

type taskError struct {
	Message string `json:"message"`
}

type pollResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	ModelURLs struct {
		GLB string `json:"glb"`
	} `json:"model_urls"`
	Error     *taskError `json:"error"`
	TaskError *taskError `json:"task_error"`
}

// Submit creates a remote generation job for imageURL (usually a data URL)
// and returns the id the service assigned to it.
func (c *Client) Submit(ctx context.Context, imageURL string, opts models.Options) (string, error) {
	body, err := json.Marshal(submitRequest{ImageURL: imageURL, Options: opts})
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/image-to-3d", bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &CommunicationError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Result == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: errMissingTaskID}
	}

	c.logger.Debug("Remote job created", zap.String("remote_task_id", out.Result))
	return out.Result, nil
}

// Poll fetches the current state of a remote job.
func (c *Client) Poll(ctx context.Context, remoteID string) (*Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/image-to-3d/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, &CommunicationError{Op: "poll", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &CommunicationError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CommunicationError{Op: "poll", StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &CommunicationError{Op: "poll", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	job := &Job{
		Status:   translateStatus(out.Status),
		Progress: out.Progress,
		ModelURL: out.ModelURLs.GLB,
	}
	switch {
	case out.Error != nil && out.Error.Message != "":
		job.Error = out.Error.Message
	case out.TaskError != nil:
		job.Error = out.TaskError.Message
	}
	return job, nil
}

// Fetch downloads a generated artifact. Artifact URLs are pre-signed, so
// no credentials are attached.
func (c *Client) Fetch(ctx context.Context, artifactURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, &CommunicationError{Op: "fetch", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &CommunicationError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CommunicationError{Op: "fetch", StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CommunicationError{Op: "fetch", Err: err}
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func translateStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "SUCCEEDED":
		return StatusSucceeded
	case "FAILED", "CANCELED", "CANCELLED", "EXPIRED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
