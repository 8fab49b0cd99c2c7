// Package otpclient はワンタイムコード検証サービスのHTTPクライアントを提供する。
package otpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client はOTPサービスのクライアント。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient は新しいClientを生成する。
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type verifyRequest struct {
	AccountID string `json:"account_id"`
	Purpose   string `json:"purpose"`
	Code      string `json:"code"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// Verify はワンタイムコードを検証する。
// コードが無効・期限切れの場合は (false, nil) を返し、通信エラーのみをerrorとする。
func (c *Client) Verify(ctx context.Context, accountID, purpose, code string) (bool, error) {
	if c.baseURL == "" {
		return false, errors.New("otp service base url is empty")
	}

	body, err := json.Marshal(verifyRequest{AccountID: accountID, Purpose: purpose, Code: code})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/otp/verify", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request to otp service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("otp service returned error status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Verified, nil
}
