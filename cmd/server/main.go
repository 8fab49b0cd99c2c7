// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"payment-auth-service/config"
	"payment-auth-service/internal/handler"
	"payment-auth-service/internal/infra"
	"payment-auth-service/internal/repository"
	"payment-auth-service/internal/usecase"
	"payment-auth-service/pkg/accountclient"
	"payment-auth-service/pkg/otpclient"
	"payment-auth-service/pkg/rabbitmq"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, infra.ParseLevel(cfg.LogLevel))

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// マスターシークレットがKMSでラップされている場合のみKMSクライアントを使う
	var decrypter infra.SecretDecrypter
	if cfg.MasterSecretKMSCiphertext != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			slog.Error("failed to init KMS client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		decrypter = kmsClient
	}

	keys, err := infra.LoadKeyMaterial(ctx, cfg, decrypter)
	if err != nil {
		slog.Error("failed to load key material", "error", err)
		os.Exit(1)
	}

	// 決済指示の送信先。未設定の場合は送信しない
	var publisher rabbitmq.Publisher = rabbitmq.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			slog.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
	} else {
		slog.Warn("RABBITMQ_URL is not set, settlement instructions will not be published")
	}

	// DI
	guard := usecase.NewLockoutGuard(repository.NewLockoutRepository(db), cfg.LockoutThreshold, cfg.LockoutDuration)
	pinService := usecase.NewPinService(
		repository.NewCredentialRepository(db),
		guard,
		keys.PINHasher(cfg.PINHashIterations),
		otpclient.NewClient(cfg.OTPServiceURL, cfg.ServiceAPIKey),
	)
	qrService := usecase.NewQRService(
		repository.NewQRCodeRepository(db),
		accountclient.NewClient(cfg.AccountServiceURL, cfg.ServiceAPIKey),
		pinService,
		rabbitmq.NewSettlementPublisher(publisher, cfg.SettlementExchange, cfg.SettlementRoutingKey),
		usecase.QRConfig{
			MinMerchantTier:   cfg.QRMinMerchantTier,
			DefaultTTLMinutes: cfg.QRDefaultTTLMinutes,
			MaxTTLMinutes:     cfg.QRMaxTTLMinutes,
		},
	)

	protector, err := keys.CardProtector()
	if err != nil {
		slog.Error("failed to init card protector", "error", err)
		os.Exit(1)
	}
	cardService := usecase.NewCardService(repository.NewCardRepository(db), protector)

	fieldService, err := usecase.NewProfileFieldService(repository.NewFieldRepository(db), keys, cfg.FieldKeyVersion)
	if err != nil {
		slog.Error("failed to init profile field service", "error", err)
		os.Exit(1)
	}

	router := handler.NewRouter(handler.Handlers{
		QR:      handler.NewQRHandler(qrService),
		PIN:     handler.NewPINHandler(pinService),
		Card:    handler.NewCardHandler(cardService, pinService),
		Profile: handler.NewProfileHandler(fieldService),
	}, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
