package handler

import (
	"net/http"

	"payment-auth-service/internal/middleware"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/pkg/httputil"
)

// PINHandler は取引PINのHTTPハンドラを提供する。
// リクエストにPINそのものは含まれず、クライアント側で導出した値のみを受け取る。
type PINHandler struct {
	service *usecase.PinService
}

// NewPINHandler は新しいPINHandlerを生成する。
func NewPINHandler(service *usecase.PinService) *PINHandler {
	return &PINHandler{service: service}
}

// SetPINRequest は初回登録のリクエスト形式。
type SetPINRequest struct {
	PINProof string `json:"pin_proof"`
	Salt     string `json:"salt"`
}

// VerifyPINRequest は照合のリクエスト形式。
type VerifyPINRequest struct {
	PINProof string `json:"pin_proof"`
}

// ChangePINRequest は変更のリクエスト形式。
type ChangePINRequest struct {
	CurrentPINProof string `json:"current_pin_proof"`
	NewPINProof     string `json:"new_pin_proof"`
	NewSalt         string `json:"new_salt"`
}

// ResetPINRequest はワンタイムコードによる再設定のリクエスト形式。
type ResetPINRequest struct {
	OTP         string `json:"otp"`
	NewPINProof string `json:"new_pin_proof"`
	NewSalt     string `json:"new_salt"`
}

// SaltResponse はソルト取得のレスポンス形式。
type SaltResponse struct {
	Salt string `json:"salt"`
}

// VerifyPINResponse は照合結果のレスポンス形式。
type VerifyPINResponse struct {
	Verified bool `json:"verified"`
}

// SetPIN は取引PINを初回登録する。
func (h *PINHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	var req SetPINRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "SET_PIN", accountID, err)
		return
	}

	if err := h.service.SetPIN(r.Context(), accountID, req.PINProof, req.Salt); err != nil {
		writeError(w, r, "SET_PIN", accountID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SET_PIN", accountID, middleware.ResultSuccess)
	w.WriteHeader(http.StatusCreated)
}

// GetSalt はPIN導出用のソルトを返す。
func (h *PINHandler) GetSalt(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	salt, err := h.service.IssueSalt(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "GET_PIN_SALT", accountID, err)
		return
	}

	httputil.JSON(w, http.StatusOK, SaltResponse{Salt: salt})
}

// Verify は取引PINを照合する。
func (h *PINHandler) Verify(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	var req VerifyPINRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "VERIFY_PIN", accountID, err)
		return
	}

	if err := h.service.Verify(r.Context(), accountID, req.PINProof); err != nil {
		writeError(w, r, "VERIFY_PIN", accountID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_PIN", accountID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, VerifyPINResponse{Verified: true})
}

// Change は現在のPINを照合したうえで新しいPINに置き換える。
func (h *PINHandler) Change(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	var req ChangePINRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "CHANGE_PIN", accountID, err)
		return
	}

	if err := h.service.ChangePIN(r.Context(), accountID, req.CurrentPINProof, req.NewPINProof, req.NewSalt); err != nil {
		writeError(w, r, "CHANGE_PIN", accountID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CHANGE_PIN", accountID, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// Reset はワンタイムコードを検証してPINを再設定する。
func (h *PINHandler) Reset(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	var req ResetPINRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "RESET_PIN", accountID, err)
		return
	}

	if err := h.service.ResetPIN(r.Context(), accountID, req.OTP, req.NewPINProof, req.NewSalt); err != nil {
		writeError(w, r, "RESET_PIN", accountID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "RESET_PIN", accountID, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}
