/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer token attached to every REST request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token string.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// Client is the core REST client shared by the rooms, profile and call history
// APIs of the calling backend.
type Client struct {
	// HTTP client used to communicate with the API
	httpClient *http.Client

	// Base URL for API requests
	BaseURL *url.URL

	tokens TokenSource

	// Configuration for the client
	Config *Config

	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// Config holds the configuration for the core client
type Config struct {
	// BaseURL is the base URL of the calling backend, e.g. https://calls.example.com/api
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// Default headers to include in API requests
	DefaultHeaders map[string]string

	// Custom HTTP client to use instead of the default one
	// If nil, a default client will be created with the specified Timeout
	HttpClient *http.Client

	// MaxRetries is the maximum number of retries for transient errors (429, 502, 503, 504).
	// Set to 0 to disable retries. Default: 3.
	MaxRetries int

	// RetryBaseDelay is the initial delay between retries. Default: 1s.
	// Subsequent retries use exponential backoff (delay * 2^attempt).
	RetryBaseDelay time.Duration

	// RequestsPerSecond limits outgoing requests. Zero disables the limiter.
	RequestsPerSecond float64

	// Logger for SDK operations. If nil, a logrus standard logger is used.
	Logger logrus.FieldLogger
}

// DefaultConfig returns a default configuration for the core client
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:3000/api",
		Timeout:        30 * time.Second,
		DefaultHeaders: make(map[string]string),
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
	}
}

// NewClient creates a new core client with the given token source and optional configuration
func NewClient(tokens TokenSource, config *Config) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}

	if config == nil {
		config = DefaultConfig()
	}

	baseURL, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, err
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := &Client{
		httpClient: httpClient,
		BaseURL:    baseURL,
		tokens:     tokens,
		Config:     config,
		log:        logger.WithField("component", "callsdk"),
	}
	if config.RequestsPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return client, nil
}

// Request performs an HTTP request against BaseURL, retrying on 429
// (respecting Retry-After) and on 502, 503 and 504 with exponential backoff.
// The caller is responsible for closing the response body when done.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}
		if !isRetryableStatus(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)
		c.log.WithFields(logrus.Fields{
			"path":    path,
			"status":  resp.StatusCode,
			"attempt": attempt + 1,
		}).Debugf("retrying request in %s", delay)
		resp.Body.Close()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// send performs a single attempt. The body is encoded anew for each one.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("error obtaining token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay honours Retry-After on 429, otherwise baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}

// ParseResponse parses an HTTP response into the given interface
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	if v == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
