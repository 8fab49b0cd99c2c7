package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment-auth-service/internal/domain"
	"payment-auth-service/internal/repository"
	"payment-auth-service/internal/security"
	"payment-auth-service/migrations"
)

const testIterations = 1000

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
// 接続を1本に制限し、全goroutineが同じデータベースを共有する。
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
	return db
}

// setupFileDB は複数接続で共有するファイル上のSQLiteデータベースを作成する。
// WALモードで書き込みトランザクションはBEGIN IMMEDIATEで直列化される。
func setupFileDB(t *testing.T, maxConns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "auth.db") + "?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { sqlDB.Close() })

	svc := NewMigrationService(repository.NewMigrationRepository(db), migrations.FS)
	if _, err := svc.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

// setupMigratedDB はマイグレーション適用済みのデータベースを作成する。
func setupMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := setupTestDB(t)
	svc := NewMigrationService(repository.NewMigrationRepository(db), migrations.FS)
	if _, err := svc.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

func testKeyMaterial(t *testing.T, master string) *security.KeyMaterial {
	t.Helper()

	km, err := security.NewKeyMaterial(
		[]byte(strings.Repeat(master, 32)),
		[]byte(strings.Repeat("h", 32)),
		[]byte("pepper"),
	)
	if err != nil {
		t.Fatalf("failed to build key material: %v", err)
	}
	return km
}

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockDirectory はテスト用の加盟店ディレクトリ。
type mockDirectory struct {
	accounts map[string]*domain.Account
	err      error
}

func (m *mockDirectory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// mockOTPVerifier はテスト用のOTP検証。
type mockOTPVerifier struct {
	validCode string
	err       error
	calls     int
}

func (m *mockOTPVerifier) Verify(ctx context.Context, accountID, purpose, code string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return purpose == PINResetPurpose && code == m.validCode, nil
}

// mockPublisher はテスト用の決済指示送信。
type mockPublisher struct {
	mu        sync.Mutex
	published []*domain.Settlement
	err       error
}

func (m *mockPublisher) PublishSettlement(ctx context.Context, s *domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, s)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

var errBroker = errors.New("broker unavailable")

// testEnv はSQLite上に組み立てたサービス一式。
type testEnv struct {
	db        *gorm.DB
	clock     *fakeClock
	guard     *LockoutGuard
	pins      *PinService
	qr        *QRService
	directory *mockDirectory
	otp       *mockOTPVerifier
	publisher *mockPublisher
	lockouts  *repository.LockoutRepository
	qrRepo    *repository.QRCodeRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupMigratedDB(t)
	clock := newFakeClock()
	km := testKeyMaterial(t, "m")

	lockouts := repository.NewLockoutRepository(db)
	guard := NewLockoutGuard(lockouts, 5, 15*time.Minute)
	guard.now = clock.Now

	otp := &mockOTPVerifier{validCode: "123456"}
	pins := NewPinService(repository.NewCredentialRepository(db), guard, km.PINHasher(testIterations), otp)

	directory := &mockDirectory{accounts: map[string]*domain.Account{
		"merchant-1": {ID: "merchant-1", Tag: "@corner-cafe", VerificationTier: 2},
		"merchant-2": {ID: "merchant-2", Tag: "@kiosk", VerificationTier: 1},
		"merchant-0": {ID: "merchant-0", Tag: "@unverified", VerificationTier: 0},
	}}
	publisher := &mockPublisher{}
	qrRepo := repository.NewQRCodeRepository(db)
	qr := NewQRService(qrRepo, directory, pins, publisher, QRConfig{
		MinMerchantTier:   1,
		DefaultTTLMinutes: 30,
		MaxTTLMinutes:     1440,
	})
	qr.now = clock.Now

	return &testEnv{
		db:        db,
		clock:     clock,
		guard:     guard,
		pins:      pins,
		qr:        qr,
		directory: directory,
		otp:       otp,
		publisher: publisher,
		lockouts:  lockouts,
		qrRepo:    qrRepo,
	}
}

// enrollPIN はアカウントにPINを登録し、照合用の証明値を返す。
func (e *testEnv) enrollPIN(t *testing.T, accountID, pin string) string {
	t.Helper()

	salt, err := security.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	proof, err := security.DerivePINProof(pin, salt)
	if err != nil {
		t.Fatalf("DerivePINProof: %v", err)
	}
	if err := e.pins.SetPIN(context.Background(), accountID, proof, salt); err != nil {
		t.Fatalf("SetPIN: %v", err)
	}
	return proof
}

// proofFor は登録済みソルトでPIN証明値を導出する。
func (e *testEnv) proofFor(t *testing.T, accountID, pin string) string {
	t.Helper()

	salt, err := e.pins.IssueSalt(context.Background(), accountID)
	if err != nil {
		t.Fatalf("IssueSalt: %v", err)
	}
	proof, err := security.DerivePINProof(pin, salt)
	if err != nil {
		t.Fatalf("DerivePINProof: %v", err)
	}
	return proof
}
