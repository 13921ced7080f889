package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Ledger     LedgerConfig
	Inference  InferenceConfig
	Billing    BillingConfig
	NATS       NATSConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Migrations MigrationsConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32

	// StatementTimeout is applied per connection; ledger statements are
	// single-row and should never approach it.
	StatementTimeout time.Duration
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Timeout  time.Duration
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

// Ledger backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type LedgerConfig struct {
	Backend        string
	DefaultCredits int
	RefundTimeout  time.Duration
	RedisKeyPrefix string
}

type InferenceConfig struct {
	SentimentURL    string
	VideoBucket     string
	PDFServiceURL   string
	HealthTimeout   time.Duration
	AnalysisTimeout time.Duration
	PythonBin       string
	LiveScript      string
	LiveModel       string
}

type BillingConfig struct {
	InternalToken string
}

type NATSConfig struct {
	URL          string
	EventsMaxAge time.Duration
}

// Enabled reports whether event publishing is configured.
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type MigrationsConfig struct {
	Path string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads an optional dotenv file and then the process environment,
// which takes precedence.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(path), dotenv.ParserEnv("", ".", envKey))

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Ledger: LedgerConfig{
			Backend:        strings.ToLower(k.String("ledger.backend")),
			DefaultCredits: k.Int("ledger.default.credits"),
			RedisKeyPrefix: k.String("ledger.redis.prefix"),
		},
		Inference: InferenceConfig{
			SentimentURL:  k.String("inference.sentiment.url"),
			VideoBucket:   k.String("inference.video.bucket"),
			PDFServiceURL: k.String("inference.pdf.url"),
			PythonBin:     k.String("inference.python"),
			LiveScript:    k.String("inference.live.script"),
			LiveModel:     k.String("inference.live.model"),
		},
		Billing: BillingConfig{
			InternalToken: k.String("billing.internal.token"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		RateLimit: RateLimitConfig{
			Requests:      k.Int("ratelimit.requests"),
			WindowSeconds: k.Int("ratelimit.window.seconds"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		Migrations: MigrationsConfig{
			Path: k.String("migrations.path"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "sentilytics"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "sentilytics"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendPostgres
	}
	if cfg.Ledger.DefaultCredits == 0 {
		cfg.Ledger.DefaultCredits = 10
	}
	if cfg.Ledger.RedisKeyPrefix == "" {
		cfg.Ledger.RedisKeyPrefix = "ledger:"
	}
	if cfg.Inference.VideoBucket == "" {
		cfg.Inference.VideoBucket = "sentiment-analysis05"
	}
	if cfg.Inference.PDFServiceURL == "" {
		cfg.Inference.PDFServiceURL = "http://127.0.0.1:8001"
	}
	if cfg.Inference.PythonBin == "" {
		cfg.Inference.PythonBin = "python"
	}
	if cfg.Inference.LiveScript == "" {
		cfg.Inference.LiveScript = "python_backend/live_processor.py"
	}
	if cfg.Inference.LiveModel == "" {
		cfg.Inference.LiveModel = "python_backend/model.pth"
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 30
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Migrations.Path == "" {
		cfg.Migrations.Path = "migrations"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"server.read.timeout", "60s", &cfg.Server.ReadTimeout},
		{"db.statement.timeout", "10s", &cfg.DB.StatementTimeout},
		{"redis.timeout", "3s", &cfg.Redis.Timeout},
		{"server.write.timeout", "150s", &cfg.Server.WriteTimeout},
		{"server.shutdown.timeout", "30s", &cfg.Server.ShutdownTimeout},
		{"jwt.access.expiry", "15m", &cfg.JWT.AccessExpiry},
		{"ledger.refund.timeout", "5s", &cfg.Ledger.RefundTimeout},
		{"inference.health.timeout", "5s", &cfg.Inference.HealthTimeout},
		{"inference.analysis.timeout", "2m", &cfg.Inference.AnalysisTimeout},
		{"nats.events.max.age", "168h", &cfg.NATS.EventsMaxAge},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dest, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", strings.ToUpper(strings.ReplaceAll(d.key, ".", "_")), err)
		}
	}

	return cfg, nil
}

// envKey maps DB_MAX_CONNS to db.max.conns.
func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
