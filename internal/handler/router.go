package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payment-auth-service/config"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/pkg/httputil"
)

// Handlers はルーターに登録するハンドラの集合。
type Handlers struct {
	QR      *QRHandler
	PIN     *PINHandler
	Card    *CardHandler
	Profile *ProfileHandler
}

// NewRouter はルーターを生成する。
func NewRouter(h Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate([]byte(cfg.JWTSecret)))

		r.Route("/qr-codes", func(r chi.Router) {
			r.Post("/", h.QR.Generate)
			r.Get("/", h.QR.History)
			r.Post("/decode", h.QR.Decode)
			r.Get("/{code}", h.QR.Validate)
			r.Post("/{code}/redeem", h.QR.Redeem)
			r.Delete("/{code}", h.QR.Revoke)
		})

		r.Route("/pin", func(r chi.Router) {
			r.Post("/", h.PIN.SetPIN)
			r.Put("/", h.PIN.Change)
			r.Get("/salt", h.PIN.GetSalt)
			r.Post("/verify", h.PIN.Verify)
			r.Post("/reset", h.PIN.Reset)
		})

		r.Route("/cards", func(r chi.Router) {
			r.Post("/", h.Card.Register)
			r.Get("/", h.Card.List)
			r.Post("/{id}/reveal", h.Card.Reveal)
		})

		r.Route("/profile/fields/{category}", func(r chi.Router) {
			r.Put("/", h.Profile.Put)
			r.Get("/", h.Profile.Get)
			r.Delete("/", h.Profile.Delete)
		})
	})

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
