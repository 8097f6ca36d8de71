package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const DefaultJWTSecret = "dev-secret-change-me"

var (
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInsecureSecret 表示非 dev 环境仍在使用默认密钥，此时服务以禁用认证的方式启动。
	ErrInsecureSecret = errors.New("default jwt secret outside dev")
)

type Config struct {
	Port                  string
	Env                   string
	StoreBackend          string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	RedisURL              string
	RedisChannel          string
	KafkaBrokers          string
	KafkaTopic            string
	StorageBackend        string
	StorageDir            string
	StoragePublicURL      string
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioBucket           string
	MinioUseSSL           bool
	MaxUploadMB           int
	InviteTTLHours        int
	OTLPEndpoint          string
	// CORSOrigins 为空时只允许同源；"*" 允许任意来源。
	CORSOrigins []string
	// AuthDisabled 在密钥不可信时由启动流程置位。
	AuthDisabled bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数，非法或非正值回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	useSSL, _ := strconv.ParseBool(getenv("MINIO_USE_SSL", "false"))
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		StoreBackend:          strings.ToLower(getenv("STORE_BACKEND", "memory")),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatterlite port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", DefaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:              getenv("REDIS_URL", ""),
		RedisChannel:          getenv("REDIS_CHANNEL", "chatterlite:changes"),
		KafkaBrokers:          getenv("KAFKA_BROKERS", ""),
		KafkaTopic:            getenv("KAFKA_TOPIC", "chatterlite.changes"),
		StorageBackend:        strings.ToLower(getenv("STORAGE_BACKEND", "disk")),
		StorageDir:            getenv("STORAGE_DIR", "./data/uploads"),
		StoragePublicURL:      getenv("STORAGE_PUBLIC_URL", "http://localhost:8080/files"),
		MinioEndpoint:         getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:        getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:        getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:           getenv("MINIO_BUCKET", "chat-attachments"),
		MinioUseSSL:           useSSL,
		MaxUploadMB:           getenvInt("MAX_UPLOAD_MB", 20),
		InviteTTLHours:        getenvInt("INVITE_TTL_HOURS", 72),
		OTLPEndpoint:          getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSOrigins:           splitList(getenv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// Validate 检查配置的结构性错误；默认密钥出现在非 dev 环境时返回 ErrInsecureSecret。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.Join(ErrInvalidConfig, errors.New("APP_PORT is empty"))
	}
	switch cfg.StoreBackend {
	case "", "memory":
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return errors.Join(ErrInvalidConfig, errors.New("DATABASE_DSN is required for postgres backend"))
		}
	default:
		return errors.Join(ErrInvalidConfig, errors.New("unknown STORE_BACKEND "+cfg.StoreBackend))
	}
	switch cfg.StorageBackend {
	case "", "disk":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.Join(ErrInvalidConfig, errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required for minio storage"))
		}
	default:
		return errors.Join(ErrInvalidConfig, errors.New("unknown STORAGE_BACKEND "+cfg.StorageBackend))
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == DefaultJWTSecret) {
		return ErrInsecureSecret
	}
	return nil
}
