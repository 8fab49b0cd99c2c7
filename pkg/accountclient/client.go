// Package accountclient は加盟店・利用者ディレクトリサービスのHTTPクライアントを提供する。
package accountclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payment-auth-service/internal/domain"
)

// Client はディレクトリサービスのクライアント。
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

// accountResponse はGET /v1/accounts/{id} のレスポンス。
type accountResponse struct {
	ID               string `json:"id"`
	Tag              string `json:"tag"`
	VerificationTier int    `json:"verification_tier"`
}

// GetAccount はアカウント情報を取得する。存在しない場合はdomain.ErrNotFoundを返す。
func (c *Client) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if c.baseURL == "" {
		return nil, errors.New("account service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to account service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("account service returned error status %d", resp.StatusCode)
	}

	var body accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &domain.Account{
		ID:               body.ID,
		Tag:              body.Tag,
		VerificationTier: body.VerificationTier,
	}, nil
}
