package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

const (
	DefaultHTTPEndpoint = "https://http-intake.logs.datadoghq.com"
	intakePath          = "/api/v2/logs"
)

// HTTPSender posts batches to the Datadog HTTP intake as a JSON array.
type HTTPSender struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	compress   bool
}

type HTTPOption func(*HTTPSender)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSender) { s.httpClient = c }
}

func WithMaxRetries(n int) HTTPOption {
	return func(s *HTTPSender) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay; attempt i waits i*d.
func WithBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPSender) { s.backoff = d }
}

func WithGzip(enabled bool) HTTPOption {
	return func(s *HTTPSender) { s.compress = enabled }
}

// NewHTTPSender validates endpoint and returns a sender for it. An endpoint
// without a path gets the v2 intake path appended.
func NewHTTPSender(endpoint, apiKey string, opts ...HTTPOption) (*HTTPSender, error) {
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = intakePath
	}

	s := &HTTPSender{
		url:    u.String(),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxRetries: 3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPSender) Send(batch []logging.Log) error {
	return s.SendAsync(context.Background(), batch)
}

func (s *HTTPSender) SendAsync(ctx context.Context, batch []logging.Log) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := s.encode(batch)
	if err != nil {
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err = s.sendRequest(ctx, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if i < s.maxRetries-1 {
			select {
			case <-time.After(time.Duration(i+1) * s.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to send batch of %d logs after %d attempts: %w", len(batch), s.maxRetries, err)
}

func (s *HTTPSender) encode(batch []logging.Log) ([]byte, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logs: %w", err)
	}
	if !s.compress {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress logs: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress logs: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *HTTPSender) sendRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", s.apiKey)
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(responseBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
