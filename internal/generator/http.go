package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8088"
	DefaultTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

// HTTPClient calls a generation service over JSON/HTTP:
//
//	POST {BaseURL}/generate  {"kind","context","count","step_key","inputs"}
//	-> {"ok":true,"output":<json>} | {"ok":false,"error":"..."}
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewHTTP builds a client for baseURL; empty values fall back to
// VENTURELINE_GENERATOR_URL and then DefaultBaseURL.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = os.Getenv("VENTURELINE_GENERATOR_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  os.Getenv("VENTURELINE_GENERATOR_KEY"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, failure(req.Kind, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate", bytes.NewReader(b))
	if err != nil {
		return nil, failure(req.Kind, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, failure(req.Kind, "request failed", err)
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, failure(req.Kind, fmt.Sprintf("decode response (status %d)", resp.StatusCode), err)
	}
	if resp.StatusCode >= 400 || !out.OK {
		reason := out.Error
		if reason == "" {
			reason = "generator error"
		}
		return nil, failure(req.Kind, fmt.Sprintf("%s (status %d)", reason, resp.StatusCode), nil)
	}
	return out.Output, nil
}
