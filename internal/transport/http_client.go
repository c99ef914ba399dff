package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// HTTPClient handles HTTP communication with the API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	tokens    TokenSource
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client. tokens may be nil for a client
// that never authenticates.
func NewHTTPClient(cfg *config.APIConfig, tokens TokenSource, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// WithTokens returns a copy reading bearer tokens from tokens. The copy
// shares the connection pool.
func (c *HTTPClient) WithTokens(tokens TokenSource) *HTTPClient {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// BaseURL returns the API root requests are resolved against.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends req and decodes the response into out.
func (c *HTTPClient) Do(ctx context.Context, req *Request, out interface{}) error {
	url := c.baseURL + req.Path
	if len(req.Query) > 0 {
		url += "?" + req.Query.Encode()
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	token := ""
	if !req.NoAuth && c.tokens != nil {
		var err error
		if token, err = c.tokens.AccessToken(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to read access token")
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"path":   req.Path,
		"size":   len(body),
		"auth":   token != "",
	}).Debug("Sending request")

	var (
		status   int
		respBody []byte
		reqID    string
	)
	err := c.retry(ctx, func() error {
		status, respBody = 0, nil

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, reader)
		if err != nil {
			return permanent(fmt.Errorf("create request: %w", err))
		}

		// Set headers
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return permanent(ctx.Err())
			}
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		reqID = resp.Header.Get("X-Request-Id")
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		status = resp.StatusCode

		// Check for retryable status codes
		if isRetryable(resp.StatusCode) {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}
		return nil
	})

	if status != 0 {
		requestsTotal.WithLabelValues(req.Method, req.Path, strconv.Itoa(status)).Inc()
	} else {
		requestsTotal.WithLabelValues(req.Method, req.Path, "error").Inc()
	}

	// Exhausted retries on a retryable status still report it as an API error.
	if err != nil && status == 0 {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"path":   req.Path,
		"status": status,
		"size":   len(respBody),
	}).Debug("Received response")

	if status < 200 || status > 299 {
		return decodeAPIError(status, reqID, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, reqID string, body []byte) error {
	apiErr := &models.APIError{
		StatusCode: status,
		Code:       models.CodeForStatus(status),
		RequestID:  reqID,
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
	}

	if c.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is transient.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway ||
		status == http.StatusGatewayTimeout
}
