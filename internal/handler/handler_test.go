package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment-auth-service/config"
	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/middleware"
	"payment-auth-service/internal/repository"
	"payment-auth-service/internal/security"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/migrations"
)

const testJWTSecret = "test-jwt-secret"

// mockDirectory はテスト用の加盟店ディレクトリ。
type mockDirectory struct{}

func (m *mockDirectory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	switch id {
	case "merchant-1":
		return &domain.Account{ID: id, Tag: "@corner-cafe", VerificationTier: 2}, nil
	case "merchant-0":
		return &domain.Account{ID: id, Tag: "@unverified", VerificationTier: 0}, nil
	}
	return nil, domain.ErrNotFound
}

// mockOTPVerifier はテスト用のOTP検証。
type mockOTPVerifier struct{}

func (m *mockOTPVerifier) Verify(ctx context.Context, accountID, purpose, code string) (bool, error) {
	return code == "123456", nil
}

// mockPublisher はテスト用の決済指示送信。
type mockPublisher struct {
	published []*domain.Settlement
}

func (m *mockPublisher) PublishSettlement(ctx context.Context, s *domain.Settlement) error {
	m.published = append(m.published, s)
	return nil
}

type testServer struct {
	handlers  Handlers
	router    http.Handler
	publisher *mockPublisher
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	svc := usecase.NewMigrationService(repository.NewMigrationRepository(db), migrations.FS)
	if _, err := svc.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db := setupTestDB(t)
	km, err := security.NewKeyMaterial(
		[]byte(strings.Repeat("k", 32)),
		[]byte(strings.Repeat("h", 32)),
		[]byte("pepper"),
	)
	if err != nil {
		t.Fatalf("NewKeyMaterial: %v", err)
	}

	guard := usecase.NewLockoutGuard(repository.NewLockoutRepository(db), 3, 15*time.Minute)
	pins := usecase.NewPinService(repository.NewCredentialRepository(db), guard, km.PINHasher(1000), &mockOTPVerifier{})

	publisher := &mockPublisher{}
	qr := usecase.NewQRService(repository.NewQRCodeRepository(db), &mockDirectory{}, pins, publisher, usecase.QRConfig{
		MinMerchantTier:   1,
		DefaultTTLMinutes: 30,
		MaxTTLMinutes:     1440,
	})

	protector, err := km.CardProtector()
	if err != nil {
		t.Fatalf("CardProtector: %v", err)
	}
	cards := usecase.NewCardService(repository.NewCardRepository(db), protector)

	fields, err := usecase.NewProfileFieldService(repository.NewFieldRepository(db), km, 1)
	if err != nil {
		t.Fatalf("NewProfileFieldService: %v", err)
	}

	h := Handlers{
		QR:      NewQRHandler(qr),
		PIN:     NewPINHandler(pins),
		Card:    NewCardHandler(cards, pins),
		Profile: NewProfileHandler(fields),
	}
	cfg := &config.Config{JWTSecret: testJWTSecret, OtelServiceName: "test"}

	return &testServer{handlers: h, router: NewRouter(h, cfg), publisher: publisher}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

// do はルーター経由でリクエストを実行する。
func (s *testServer) do(t *testing.T, caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, caller))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// enrollPIN はPINを登録し、照合用の証明値を返す。
func (s *testServer) enrollPIN(t *testing.T, accountID, pin string) string {
	t.Helper()

	salt, err := security.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	proof, err := security.DerivePINProof(pin, salt)
	if err != nil {
		t.Fatalf("DerivePINProof: %v", err)
	}
	rec := s.do(t, accountID, http.MethodPost, "/v1/pin", SetPINRequest{PINProof: proof, Salt: salt})
	if rec.Code != http.StatusCreated {
		t.Fatalf("set PIN: want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return proof
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &resp)
	return resp.Code
}

func withCaller(req *http.Request, accountID string, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	return req.WithContext(middleware.WithAccountID(ctx, accountID))
}
