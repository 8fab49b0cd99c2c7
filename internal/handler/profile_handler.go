package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/pkg/httputil"
)

// ProfileHandler は機微なプロフィール項目のHTTPハンドラを提供する。
type ProfileHandler struct {
	service *usecase.ProfileFieldService
}

// NewProfileHandler は新しいProfileHandlerを生成する。
func NewProfileHandler(service *usecase.ProfileFieldService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// PutFieldRequest は項目保存のリクエスト形式。
type PutFieldRequest struct {
	Value string `json:"value"`
}

// FieldResponse は項目のレスポンス形式。
type FieldResponse struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

// Put は項目を暗号化して保存する。
func (h *ProfileHandler) Put(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())
	category := domain.FieldCategory(chi.URLParam(r, "category"))

	var req PutFieldRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "PUT_PROFILE_FIELD", string(category), err)
		return
	}

	if err := h.service.Put(r.Context(), ownerID, category, req.Value); err != nil {
		writeError(w, r, "PUT_PROFILE_FIELD", string(category), err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "PUT_PROFILE_FIELD", string(category), middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// Get は項目を復号して返す。
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())
	category := domain.FieldCategory(chi.URLParam(r, "category"))

	value, err := h.service.Get(r.Context(), ownerID, category)
	if err != nil {
		writeError(w, r, "GET_PROFILE_FIELD", string(category), err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_PROFILE_FIELD", string(category), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, FieldResponse{Category: string(category), Value: value})
}

// Delete は項目を削除する。
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())
	category := domain.FieldCategory(chi.URLParam(r, "category"))

	if err := h.service.Delete(r.Context(), ownerID, category); err != nil {
		writeError(w, r, "DELETE_PROFILE_FIELD", string(category), err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "DELETE_PROFILE_FIELD", string(category), middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}
