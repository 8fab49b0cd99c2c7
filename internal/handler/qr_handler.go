package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/pkg/httputil"
)

// QRHandler はQR決済コードのHTTPハンドラを提供する。
type QRHandler struct {
	service *usecase.QRService
}

// NewQRHandler は新しいQRHandlerを生成する。
func NewQRHandler(service *usecase.QRService) *QRHandler {
	return &QRHandler{service: service}
}

// GenerateQRRequest はコード発行のリクエスト形式。amountを省略すると金額自由のコードになる。
type GenerateQRRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	TTLMinutes  int              `json:"ttl_minutes"`
}

// RedeemQRRequest はコード利用のリクエスト形式。
type RedeemQRRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	PINProof string          `json:"pin_proof"`
}

// DecodeQRRequest はペイロード解析のリクエスト形式。
type DecodeQRRequest struct {
	Payload string `json:"payload"`
}

// QRCodeResponse はQR決済コードのレスポンス形式。
type QRCodeResponse struct {
	Code        string           `json:"code"`
	MerchantID  string           `json:"merchant_id"`
	MerchantTag string           `json:"merchant_tag"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Status      string           `json:"status"`
	CreatedAt   string           `json:"created_at,omitempty"`
	ExpiresAt   string           `json:"expires_at"`
	UsedAt      string           `json:"used_at,omitempty"`
	Payload     string           `json:"payload,omitempty"`
}

// QRCodeListResponse はコード一覧のレスポンス形式。
type QRCodeListResponse struct {
	Codes []QRCodeResponse `json:"codes"`
}

// SettlementResponse は決済指示のレスポンス形式。
type SettlementResponse struct {
	Code        string          `json:"code"`
	MerchantID  string          `json:"merchant_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	RedeemedAt  string          `json:"redeemed_at"`
}

// QRPayloadResponse はペイロード解析結果のレスポンス形式。
type QRPayloadResponse struct {
	Code        string           `json:"code"`
	MerchantTag string           `json:"merchant_tag"`
	FixedAmount *decimal.Decimal `json:"fixed_amount"`
	GeneratedAt string           `json:"generated_at"`
	ExpiresAt   string           `json:"expires_at"`
}

func toQRCodeResponse(c *domain.QRPaymentCode) QRCodeResponse {
	resp := QRCodeResponse{
		Code:        c.Code,
		MerchantID:  c.MerchantID,
		MerchantTag: c.MerchantTag,
		Amount:      c.Amount,
		Description: c.Description,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   c.ExpiresAt.Format(time.RFC3339),
		Payload:     c.Payload,
	}
	if c.UsedAt != nil {
		resp.UsedAt = c.UsedAt.Format(time.RFC3339)
	}
	return resp
}

// Generate は呼び出し元を加盟店としてQR決済コードを発行する。
func (h *QRHandler) Generate(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.AccountIDFromContext(r.Context())

	var req GenerateQRRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "GENERATE_QR", merchantID, err)
		return
	}

	code, err := h.service.Generate(r.Context(), usecase.GenerateQRInput{
		MerchantID:  merchantID,
		Amount:      req.Amount,
		Description: req.Description,
		TTLMinutes:  req.TTLMinutes,
	})
	if err != nil {
		writeError(w, r, "GENERATE_QR", merchantID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "GENERATE_QR", code.Code, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toQRCodeResponse(code))
}

// Validate は決済前にコードの内容を返す。
func (h *QRHandler) Validate(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "code")

	details, err := h.service.Validate(r.Context(), value)
	if err != nil {
		writeError(w, r, "VALIDATE_QR", value, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VALIDATE_QR", value, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, QRCodeResponse{
		Code:        details.Code,
		MerchantID:  details.MerchantID,
		MerchantTag: details.MerchantTag,
		Amount:      details.Amount,
		Description: details.Description,
		Status:      string(details.Status),
		ExpiresAt:   details.ExpiresAt.Format(time.RFC3339),
	})
}

// Redeem は呼び出し元を支払者としてコードを利用する。
func (h *QRHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "code")

	var req RedeemQRRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "REDEEM_QR", value, err)
		return
	}

	settlement, err := h.service.Redeem(r.Context(), usecase.RedeemQRInput{
		PayerID:         middleware.AccountIDFromContext(r.Context()),
		Code:            value,
		PresentedAmount: req.Amount,
		PINProof:        req.PINProof,
	})
	if err != nil {
		writeError(w, r, "REDEEM_QR", value, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REDEEM_QR", value, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, SettlementResponse{
		Code:        settlement.Code,
		MerchantID:  settlement.MerchantID,
		Amount:      settlement.Amount,
		Description: settlement.Description,
		RedeemedAt:  settlement.RedeemedAt.Format(time.RFC3339),
	})
}

// Revoke は発行加盟店がコードを取り消す。
func (h *QRHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "code")

	if err := h.service.Revoke(r.Context(), middleware.AccountIDFromContext(r.Context()), value); err != nil {
		writeError(w, r, "REVOKE_QR", value, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVOKE_QR", value, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// History は呼び出し元加盟店のコード一覧を返す。
func (h *QRHandler) History(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.AccountIDFromContext(r.Context())

	var status *domain.QRCodeStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.QRCodeStatus(s)
		status = &st
	}

	codes, err := h.service.History(r.Context(), merchantID, status)
	if err != nil {
		writeError(w, r, "LIST_QR", merchantID, err)
		return
	}

	resp := QRCodeListResponse{Codes: make([]QRCodeResponse, len(codes))}
	for i, c := range codes {
		resp.Codes[i] = toQRCodeResponse(c)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Decode はスキャンしたペイロードを解析する。状態は参照しない。
func (h *QRHandler) Decode(w http.ResponseWriter, r *http.Request) {
	var req DecodeQRRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "DECODE_QR", "", err)
		return
	}

	p, err := h.service.Decode(req.Payload)
	if err != nil {
		writeError(w, r, "DECODE_QR", "", err)
		return
	}

	httputil.JSON(w, http.StatusOK, QRPayloadResponse{
		Code:        p.Code,
		MerchantTag: p.MerchantTag,
		FixedAmount: p.FixedAmount,
		GeneratedAt: p.GeneratedAt.Format(time.RFC3339),
		ExpiresAt:   p.ExpiresAt.Format(time.RFC3339),
	})
}
