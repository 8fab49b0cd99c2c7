package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/pkg/httputil"
)

// CardHandler は決済カードのHTTPハンドラを提供する。
type CardHandler struct {
	cards *usecase.CardService
	pins  *usecase.PinService
}

// NewCardHandler は新しいCardHandlerを生成する。
func NewCardHandler(cards *usecase.CardService, pins *usecase.PinService) *CardHandler {
	return &CardHandler{cards: cards, pins: pins}
}

// RegisterCardRequest はカード登録のリクエスト形式。
type RegisterCardRequest struct {
	Number string `json:"number"`
}

// RevealCardRequest はカード番号表示のリクエスト形式。
type RevealCardRequest struct {
	PINProof string `json:"pin_proof"`
}

// CardResponse はカードのレスポンス形式。番号はマスク済み。
type CardResponse struct {
	ID        string `json:"id"`
	Masked    string `json:"masked"`
	Last4     string `json:"last4"`
	CreatedAt string `json:"created_at"`
}

// CardListResponse はカード一覧のレスポンス形式。
type CardListResponse struct {
	Cards []CardResponse `json:"cards"`
}

// RevealCardResponse は復号したカード番号のレスポンス形式。
type RevealCardResponse struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

func toCardResponse(c *domain.CardSecret) CardResponse {
	return CardResponse{
		ID:        c.ID,
		Masked:    c.Masked,
		Last4:     c.Last4,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

// Register はカードを登録する。
func (h *CardHandler) Register(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())

	var req RegisterCardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "REGISTER_CARD", ownerID, err)
		return
	}

	card, err := h.cards.Register(r.Context(), ownerID, req.Number)
	if err != nil {
		writeError(w, r, "REGISTER_CARD", ownerID, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REGISTER_CARD", card.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toCardResponse(card))
}

// List は登録済みカードをマスク表示で返す。
func (h *CardHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())

	cards, err := h.cards.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, "LIST_CARDS", ownerID, err)
		return
	}

	resp := CardListResponse{Cards: make([]CardResponse, len(cards))}
	for i, c := range cards {
		resp.Cards[i] = toCardResponse(c)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Reveal は取引PINを照合したうえでカード番号を復号して返す。
func (h *CardHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.AccountIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req RevealCardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "REVEAL_CARD", id, err)
		return
	}

	if err := h.pins.Verify(r.Context(), ownerID, req.PINProof); err != nil {
		writeError(w, r, "REVEAL_CARD", id, err)
		return
	}

	number, err := h.cards.Reveal(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, "REVEAL_CARD", id, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVEAL_CARD", id, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, RevealCardResponse{ID: id, Number: number})
}
