// Package genclient talks to the remote reply-generation service.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeneratePath is the fixed path of the generation endpoint.
const GeneratePath = "/api/email/generate"

// DefaultTone is sent with every request.
const DefaultTone = "professional"

// ErrRequestFailed is returned for any non-2xx response.
var ErrRequestFailed = errors.New("API Request Failed")

// Request is the JSON body sent to the service.
type Request struct {
	EmailContent string `json:"emailContent"`
	Tone         string `json:"tone"`
}

// StatusError carries the status of a failed response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (status %d)", ErrRequestFailed.Error(), e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrRequestFailed }

// Client posts thread text and returns the generated reply.
type Client struct {
	endpoint string
	tone     string
	http     *http.Client
	timeout  time.Duration
}

// Options configures a Client.
type Options struct {
	// Endpoint is the service base URL, e.g. http://localhost:8080.
	Endpoint string
	Tone     string
	// Timeout bounds one request. Zero means no bound.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		tone:     opts.Tone,
		http:     opts.HTTPClient,
		timeout:  opts.Timeout,
	}
	if c.tone == "" {
		c.tone = DefaultTone
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	return c
}

// Generate sends content to the service. It makes exactly one attempt.
func (c *Client) Generate(ctx context.Context, content string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(Request{EmailContent: content, Tone: c.tone})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+GeneratePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", GeneratePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(raw), nil
}
