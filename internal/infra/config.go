package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gensvc/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string

	StorageDriver      string
	StoragePath        string
	StorageBaseURL     string
	MediaHostAllowlist []string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3AccessKeyID      string
	S3SecretAccessKey  string
	S3UsePathStyle     bool
	S3PublicBaseURL    string

	GeoIPDBPath string

	AnalysisProvider string
	PromptProvider   string
	ImageProvider    string
	ProviderTimeout  time.Duration
	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	GeminiBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIImageModel string
	OpenAIBaseURL    string
	OpenAIOrg        string
	QwenAPIKey       string
	QwenBaseURL      string
	QwenImageModel   string
	QwenEditModel    string

	DBMaxConns int32
	DBMinConns int32

	DefaultPlan         string
	DefaultRequestLimit int

	FanoutConcurrency  int
	ItemRetries        int
	ItemTimeout        time.Duration
	PipelineDeadline   time.Duration
	EphemeralTTL       time.Duration
	SweepSchedule      string
	SweepBatch         int
	StaleRequestAfter  time.Duration
	ChannelsConfigPath string
	WorkerMetricsPort  string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", "file")),
		StoragePath:       getEnv("STORAGE_PATH", "./data/assets"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),

		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		AnalysisProvider: getEnv("ANALYSIS_PROVIDER", "gemini"),
		PromptProvider:   getEnv("PROMPT_PROVIDER", "gemini"),
		ImageProvider:    getEnv("IMAGE_PROVIDER", "openai"),
		ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "dall-e-2"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),
		QwenAPIKey:       os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:      getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenImageModel:   getEnv("QWEN_IMAGE_MODEL", "qwen-image"),
		QwenEditModel:    getEnv("QWEN_EDIT_MODEL", "qwen-image-edit"),

		DBMaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		DBMinConns: int32(getEnvInt("DB_MIN_CONNS", 1)),

		DefaultPlan:         getEnv("DEFAULT_PLAN", "free"),
		DefaultRequestLimit: getEnvInt("DEFAULT_REQUEST_LIMIT", 50),

		FanoutConcurrency:  getEnvInt("FANOUT_CONCURRENCY", 3),
		ItemRetries:        getEnvInt("ITEM_RETRIES", 1),
		ItemTimeout:        getEnvDuration("ITEM_TIMEOUT", 90*time.Second),
		PipelineDeadline:   getEnvDuration("PIPELINE_DEADLINE", 5*time.Minute),
		EphemeralTTL:       getEnvDuration("EPHEMERAL_TTL", 24*time.Hour),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "0 */5 * * * *"),
		SweepBatch:         getEnvInt("SWEEP_BATCH", 100),
		ChannelsConfigPath: os.Getenv("CHANNELS_CONFIG_PATH"),
		WorkerMetricsPort:  getEnv("WORKER_METRICS_PORT", "9091"),

		LogLevel:      getEnv("LOG_LEVEL", ""),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
	cfg.StaleRequestAfter = getEnvDuration("STALE_REQUEST_AFTER", cfg.PipelineDeadline+5*time.Minute)
	cfg.MediaHostAllowlist = mergeHosts(cfg.StorageBaseURL, cfg.S3PublicBaseURL, splitList(os.Getenv("MEDIA_HOST_ALLOWLIST")))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "file":
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be file or s3, got %q", cfg.StorageDriver)
	}

	if cfg.ItemRetries < 0 || cfg.ItemRetries > 1 {
		return nil, fmt.Errorf("ITEM_RETRIES must be 0 or 1")
	}
	if cfg.FanoutConcurrency < 1 {
		return nil, fmt.Errorf("FANOUT_CONCURRENCY must be >= 1")
	}
	if cfg.DefaultRequestLimit < domain.UnlimitedQuota {
		return nil, fmt.Errorf("DEFAULT_REQUEST_LIMIT must be -1 (unlimited) or >= 0")
	}
	if cfg.EphemeralTTL <= 0 {
		return nil, fmt.Errorf("EPHEMERAL_TTL must be positive")
	}
	if cfg.StaleRequestAfter <= cfg.PipelineDeadline {
		return nil, fmt.Errorf("STALE_REQUEST_AFTER must exceed PIPELINE_DEADLINE")
	}
	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (>= 1)")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mergeHosts(baseURL, publicURL string, extra []string) []string {
	set := map[string]struct{}{}
	for _, raw := range []string{baseURL, publicURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			set[strings.ToLower(u.Hostname())] = struct{}{}
		}
	}
	for _, host := range extra {
		set[strings.ToLower(host)] = struct{}{}
	}
	hosts := make([]string, 0, len(set))
	for host := range set {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
