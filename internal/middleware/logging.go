// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// ResultSuccess は成功時の監査ログの結果値。失敗時はエラーコードをそのまま記録する。
const ResultSuccess = "success"

// WriteAuditLog は監査ログを出力する。
// subject は操作対象（アカウントIDまたはQRコード）、result は成功時 "success"、失敗時はエラー種別。
func WriteAuditLog(ctx context.Context, operation, subject, result string) {
	level := slog.LevelInfo
	if result != ResultSuccess {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "payment operation completed",
		"audit", true,
		"operation", operation,
		"caller", AccountIDFromContext(ctx),
		"subject", subject,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
