// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
// プロセス起動時に一度だけ構築し、以降は変更しない。
type Config struct {
	Port               string
	DatabaseURL        string
	LogLevel           string
	GoogleCloudProject string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
	OtelInsecure     bool

	// 鍵素材。MASTER_SECRET_KMS_CIPHERTEXTが設定されている場合はKMSで復号する。
	MasterSecret              string
	MasterSecretKMSCiphertext string
	KMSKeyName                string
	CardHashSecret            string
	PINPepper                 string
	PINHashIterations         int
	FieldKeyVersion           uint

	LockoutThreshold uint
	LockoutDuration  time.Duration

	QRMinMerchantTier    int
	QRDefaultTTLMinutes  int
	QRMaxTTLMinutes      int
	SettlementExchange   string
	SettlementRoutingKey string

	JWTSecret         string
	AccountServiceURL string
	OTPServiceURL     string
	ServiceAPIKey     string
	RabbitMQURL       string
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "payment-auth-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		OtelInsecure:     getEnvBool("OTEL_INSECURE", false),

		MasterSecret:              os.Getenv("MASTER_SECRET"),
		MasterSecretKMSCiphertext: os.Getenv("MASTER_SECRET_KMS_CIPHERTEXT"),
		KMSKeyName:                os.Getenv("KMS_KEY_NAME"),
		CardHashSecret:            os.Getenv("CARD_HASH_SECRET"),
		PINPepper:                 os.Getenv("PIN_PEPPER"),
		PINHashIterations:         getEnvInt("PIN_HASH_ITERATIONS", 100_000),
		FieldKeyVersion:           uint(getEnvInt("FIELD_KEY_VERSION", 1)),

		LockoutThreshold: uint(getEnvInt("LOCKOUT_THRESHOLD", 5)),
		LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 15*time.Minute),

		QRMinMerchantTier:    getEnvInt("QR_MIN_MERCHANT_TIER", 1),
		QRDefaultTTLMinutes:  getEnvInt("QR_DEFAULT_TTL_MINUTES", 30),
		QRMaxTTLMinutes:      getEnvInt("QR_MAX_TTL_MINUTES", 1440),
		SettlementExchange:   getEnv("SETTLEMENT_EXCHANGE", "payment_events"),
		SettlementRoutingKey: getEnv("SETTLEMENT_ROUTING_KEY", "qr.payment.redeemed"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		AccountServiceURL: os.Getenv("ACCOUNT_SERVICE_URL"),
		OTPServiceURL:     os.Getenv("OTP_SERVICE_URL"),
		ServiceAPIKey:     os.Getenv("SERVICE_API_KEY"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
