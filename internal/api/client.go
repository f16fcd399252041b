// Package api is the client for the analysis backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/limiter"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
)

// Backend paths.
const (
	PathAnalyze    = "/analyze"
	PathTestAPIKey = "/test-api-key"
	PathSaveAPIKey = "/save-api-key"
	PathGetAPIKey  = "/get-api-key"
	PathDeleteKey  = "/delete-api-key"
)

// HeaderRequestID correlates client and backend logs.
const HeaderRequestID = "X-Request-ID"

// StatusOK is the status value of a successful get-api-key response.
const StatusOK = "ok"

const maxBody = 4 << 20

// StatusError is a non-2xx backend response. Its message is the detail the
// backend sent so it can be classified.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is maps well-known statuses to sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case errs.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case errs.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case errs.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// KeyResponse is the body of GET /get-api-key.
type KeyResponse struct {
	Status string `json:"status"`
	APIKey string `json:"api_key"`
}

// ProviderResponse is the body of GET /test-api-key.
type ProviderResponse struct {
	Provider string `json:"provider"`
}

type saveKeyRequest struct {
	APIKey string `json:"api_key"`
}

type saveKeyResponse struct {
	APIKey string `json:"api_key"`
}

// Client calls the backend. An empty token sends no Authorization header.
type Client struct {
	base *url.URL
	http *http.Client
	lim  limiter.Limiter
	log  *zap.Logger
}

// New builds a Client. hc and lim may be nil.
func New(baseURL string, hc *http.Client, lim limiter.Limiter, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	return &Client{base: u, http: hc, lim: lim, log: logging.OrNop(log)}, nil
}

// Analyze submits code for analysis.
func (c *Client) Analyze(ctx context.Context, token string, req model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	var out model.AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, PathAnalyze, token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestAPIKey returns the provider the backend detected for the stored key.
func (c *Client) TestAPIKey(ctx context.Context, token string) (string, error) {
	var out ProviderResponse
	if err := c.do(ctx, http.MethodGet, PathTestAPIKey, token, nil, &out); err != nil {
		return "", err
	}
	return out.Provider, nil
}

// SaveAPIKey stores raw and returns the masked echo.
func (c *Client) SaveAPIKey(ctx context.Context, token, raw string) (string, error) {
	var out saveKeyResponse
	if err := c.do(ctx, http.MethodPost, PathSaveAPIKey, token, saveKeyRequest{APIKey: raw}, &out); err != nil {
		return "", err
	}
	if out.APIKey == "" {
		return "", errors.New("backend returned no masked key")
	}
	return out.APIKey, nil
}

// GetAPIKey fetches the stored masked key.
func (c *Client) GetAPIKey(ctx context.Context, token string) (*KeyResponse, error) {
	var out KeyResponse
	if err := c.do(ctx, http.MethodGet, PathGetAPIKey, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAPIKey removes the stored key.
func (c *Client) DeleteAPIKey(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, PathDeleteKey, token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	if err := c.lim.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	reqID := uuid.Must(uuid.NewV4()).String()
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend call failed", zap.String("path", path), zap.String("request_id", reqID), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Detail: ExtractDetail(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ExtractDetail picks the message out of an error body: the JSON "detail"
// field, else "error", else the JSON text, else the raw text.
func ExtractDetail(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}
	for _, k := range []string{"detail", "error"} {
		v, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			if s != "" {
				return s
			}
			continue
		}
		if t := string(bytes.TrimSpace(v)); t != "null" {
			return t
		}
	}
	return string(raw)
}
