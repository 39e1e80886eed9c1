package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	// distrolessイメージにはタイムゾーンデータがないため埋め込む
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/hitoshi/trendbot/internal/model"
)

// ストアの実装
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	DatabaseURL  string
	StoreBackend string

	// NATS
	NATSURL           string
	NATSSubject       string
	NATSQueueGroup    string
	NATSMaxReconnects int
	NATSReconnectWait time.Duration

	// Ingest
	IngestMaxConcurrent int
	IngestTimeout       time.Duration

	// Time zone
	Timezone string
	Location *time.Location

	// Tokenizer
	StopwordsPath    string
	StopwordsPersist bool

	// Scope defaults
	DefaultMinWordLength int
	DefaultMaxItems      int

	// Jobs
	ReportTickInterval  time.Duration
	ReportMaxConcurrent int
	ReportCharts        bool
	SnapshotInterval    time.Duration
	CleanupInterval     time.Duration
	RetentionDays       int

	// Charts
	ChartWidth  int
	ChartHeight int

	// Rate Limit
	RateLimitGeneral int
	RateLimitIngest  int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	// HTTPMaxConnections は同時に受け付けるHTTP接続数の上限。0以下で無制限。
	HTTPMaxConnections int
}

// LoadDotEnv は.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendPostgres))
	if cfg.StoreBackend != StoreBackendPostgres && cfg.StoreBackend != StoreBackendMemory {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q: %q", StoreBackendPostgres, StoreBackendMemory, cfg.StoreBackend)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreBackend == StoreBackendPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Timezone = getEnvString("TIMEZONE", "Europe/Istanbul")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.NATSURL = getEnvString("NATS_URL", "nats://localhost:4222")
	cfg.NATSSubject = getEnvString("NATS_SUBJECT", "trendbot.messages")
	cfg.NATSQueueGroup = getEnvString("NATS_QUEUE_GROUP", "trendbot-ingest")
	cfg.NATSMaxReconnects = getEnvInt("NATS_MAX_RECONNECTS", 10)
	cfg.NATSReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second)
	cfg.IngestMaxConcurrent = getEnvInt("INGEST_MAX_CONCURRENT", 4)
	cfg.IngestTimeout = getEnvDuration("INGEST_TIMEOUT", 10*time.Second)
	cfg.StopwordsPath = getEnvString("STOPWORDS_PATH", "")
	cfg.StopwordsPersist = getEnvBool("STOPWORDS_PERSIST", false)
	cfg.DefaultMinWordLength = getEnvInt("DEFAULT_MIN_WORD_LENGTH", model.DefaultMinWordLength)
	cfg.DefaultMaxItems = getEnvInt("DEFAULT_MAX_ITEMS", model.DefaultMaxItems)
	cfg.ReportTickInterval = getEnvDuration("REPORT_TICK_INTERVAL", 30*time.Second)
	cfg.ReportMaxConcurrent = getEnvInt("REPORT_MAX_CONCURRENT", 4)
	cfg.ReportCharts = getEnvBool("REPORT_CHARTS", true)
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 400)
	cfg.ChartWidth = getEnvInt("CHART_WIDTH", 800)
	cfg.ChartHeight = getEnvInt("CHART_HEIGHT", 500)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIngest = getEnvInt("RATE_LIMIT_INGEST", 600)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.HTTPMaxConnections = getEnvInt("HTTP_MAX_CONNECTIONS", 1024)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ScopeDefaults は新規スコープに作成する設定の既定値を返す。
func (c *Config) ScopeDefaults() model.ScopeSettings {
	d := model.DefaultScopeSettings(model.GlobalScope)
	d.MinWordLength = c.DefaultMinWordLength
	d.MaxItems = c.DefaultMaxItems
	return d
}

func (c *Config) validate() error {
	patch := model.SettingsPatch{
		MinWordLength: &c.DefaultMinWordLength,
		MaxItems:      &c.DefaultMaxItems,
	}
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("invalid scope defaults: %w", err)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive: %d", c.RetentionDays)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
