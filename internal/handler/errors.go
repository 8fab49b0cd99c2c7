// Package handler はHTTPハンドラを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/pkg/httputil"
)

// LockedResponse はロックアウト中のエラーレスポンス形式。
type LockedResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LockedUntil string `json:"locked_until"`
}

// writeError はエラー種別をHTTPステータスに変換して返し、監査ログを出力する。
func writeError(w http.ResponseWriter, r *http.Request, operation, subject string, err error) {
	ctx := r.Context()

	var locked *domain.LockedError
	if errors.As(err, &locked) {
		middleware.WriteAuditLog(ctx, operation, subject, "ACCOUNT_LOCKED")
		retryAfter := int(time.Until(locked.Until).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httputil.JSON(w, http.StatusLocked, LockedResponse{
			Code:        "ACCOUNT_LOCKED",
			Message:     "too many failed attempts",
			LockedUntil: locked.Until.UTC().Format(time.RFC3339),
		})
		return
	}

	status, code, message := classify(err)
	middleware.WriteAuditLog(ctx, operation, subject, code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed",
			"operation", operation,
			"error", err,
		)
	}
	httputil.Error(w, status, code, message)
}

// classify はエラーをステータス・コード・メッセージに分類する。
// 期限切れは状態不正より先に判定する。
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrOTPRejected):
		return http.StatusUnauthorized, "OTP_REJECTED", "one-time code rejected"
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "AUTHENTICATION_FAILED", "PIN verification failed"
	case errors.Is(err, domain.ErrTierTooLow):
		return http.StatusForbidden, "TIER_TOO_LOW", "merchant verification tier too low"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "operation not permitted"
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "EXPIRED", "code has expired"
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", "amount does not match the code"
	case errors.Is(err, domain.ErrPINNotSet):
		return http.StatusNotFound, "PIN_NOT_SET", "transaction PIN not set"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrPINAlreadySet):
		return http.StatusConflict, "PIN_ALREADY_SET", "transaction PIN already set"
	case errors.Is(err, domain.ErrDuplicateCard):
		return http.StatusConflict, "DUPLICATE_CARD", "card already registered"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", "operation not allowed in current state"
	case errors.Is(err, domain.ErrIntegrity):
		return http.StatusInternalServerError, "INTEGRITY_ERROR", "stored data failed integrity check"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

// badRequest はリクエスト形式の誤りを返す。
func badRequest(w http.ResponseWriter, r *http.Request, operation, subject string, err error) {
	middleware.WriteAuditLog(r.Context(), operation, subject, "VALIDATION_ERROR")
	httputil.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
}
