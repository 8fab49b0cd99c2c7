// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	token   string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "payctl",
		Short: "Payment Authorization Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if apiURL == "" {
				apiURL = os.Getenv("PAYCTL_API_URL")
			}
			if token == "" {
				token = os.Getenv("PAYCTL_TOKEN")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set PAYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token of the calling account (or set PAYCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(pinCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rotateFieldsCmd())
	rootCmd.AddCommand(kmsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("payctl version %s\n", version)
		},
	}
}

// callAPI はAPIを呼び出し、期待したステータスの場合にレスポンスボディを返す。
func callAPI(method, path string, body any, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set PAYCTL_API_URL)")
	}
	if token == "" {
		return nil, fmt.Errorf("--token is required (or set PAYCTL_TOKEN)")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		LockedUntil string `json:"locked_until"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		if errResp.LockedUntil != "" {
			return fmt.Errorf("Error: %s (locked until %s)", errResp.Message, errResp.LockedUntil)
		}
		return fmt.Errorf("Error: %s [%s]", errResp.Message, errResp.Code)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
