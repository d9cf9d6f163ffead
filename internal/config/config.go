package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration of the agent core. Zero sections are
// filled from DefaultConfig.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	LLM         LLMConfig        `mapstructure:"llm"`
	Embeddings  EmbeddingsConfig `mapstructure:"embeddings"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Qdrant      QdrantConfig     `mapstructure:"qdrant"`
	Memory      MemoryConfig     `mapstructure:"memory"`
	Skills      SkillsConfig     `mapstructure:"skills"`
	Sandbox     SandboxConfig    `mapstructure:"sandbox"`
	Policy      PolicyConfig     `mapstructure:"policy"`
	Pricing     PricingConfig    `mapstructure:"pricing"`
	RateLimits  RateLimitConfig  `mapstructure:"rate_limits"`
	Predictor   PredictorConfig  `mapstructure:"predictor"`
	Search      SearchConfig     `mapstructure:"search"`
	Compaction  CompactionConfig `mapstructure:"compaction"`
	Events      EventsConfig     `mapstructure:"events"`
	Schedules   SchedulesConfig  `mapstructure:"schedules"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Admin       AdminConfig      `mapstructure:"admin"`
	Watch       WatchConfig      `mapstructure:"watch"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type LLMConfig struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	FlashModel    string        `mapstructure:"flash_model"`
	ProModel      string        `mapstructure:"pro_model"`
	ThinkingModel string        `mapstructure:"thinking_model"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type EmbeddingsConfig struct {
	Provider    string        `mapstructure:"provider"` // http or openai
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Dimensions  int           `mapstructure:"dimensions"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	LRUCapacity int           `mapstructure:"lru_capacity"`
	EnableRedis bool          `mapstructure:"enable_redis"`
	MaxBatch    int           `mapstructure:"max_batch"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite3
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteQueueSize  int           `mapstructure:"write_queue_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QdrantConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MemoryConfig struct {
	Backend string `mapstructure:"backend"` // postgres, qdrant or memory
}

type SkillsConfig struct {
	Root string `mapstructure:"root"`
}

type SandboxConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PolicyConfig struct {
	OverlayDir string `mapstructure:"overlay_dir"`
	Mode       string `mapstructure:"mode"` // off, dry-run or enforce
	FailClosed bool   `mapstructure:"fail_closed"`
}

type PricingConfig struct {
	OverridePath string `mapstructure:"override_path"`
}

type RateLimitConfig struct {
	Path string `mapstructure:"path"`
}

type PredictorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PredictNextSteps bool          `mapstructure:"predict_next_steps"`
	DraftReplies     bool          `mapstructure:"draft_replies"`
	DraftFollowUps   bool          `mapstructure:"draft_follow_ups"`
	DraftListings    bool          `mapstructure:"draft_listing_alerts"`
	MaxDraftsPerDay  int           `mapstructure:"max_drafts_per_day"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	Limiter          string        `mapstructure:"limiter"` // redis, sql or memory
}

type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

type CompactionConfig struct {
	RecentMessages int           `mapstructure:"recent_messages"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type EventsConfig struct {
	Stream     string        `mapstructure:"stream"`
	Group      string        `mapstructure:"group"`
	Consumer   string        `mapstructure:"consumer"`
	MaxRetries int           `mapstructure:"max_retries"`
	DeadLetter string        `mapstructure:"dead_letter"`
	Block      time.Duration `mapstructure:"block"`
}

type SchedulesConfig struct {
	FollowUpSpec    string `mapstructure:"follow_up_spec"`
	MinIntervalMins int    `mapstructure:"min_interval_mins"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AdminConfig is the HTTP server for health checks, webhooks and draft review
type AdminConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// WatchConfig enables hot reload of pricing and rate limit files in Dir
type WatchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// DefaultConfig returns the configuration used when no file or env override is present
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:      "openai",
			FlashModel:    "gemini-2.5-flash",
			ProModel:      "gemini-2.5-pro",
			ThinkingModel: "gemini-3-pro-preview",
			Timeout:       30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "http",
			BaseURL:     "http://localhost:8000",
			Model:       "text-embedding-004",
			Dimensions:  768,
			Timeout:     5 * time.Second,
			CacheTTL:    time.Hour,
			LRUCapacity: 2048,
			MaxBatch:    100,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			WriteQueueSize:  1000,
		},
		Redis:      RedisConfig{Addr: "localhost:6379"},
		Qdrant:     QdrantConfig{URL: "http://localhost:6333", Collection: "contact_insights", Timeout: 5 * time.Second},
		Memory:     MemoryConfig{Backend: "postgres"},
		Skills:     SkillsConfig{Root: "skills"},
		Sandbox:    SandboxConfig{Timeout: 10 * time.Second},
		Policy:     PolicyConfig{Mode: "enforce"},
		Predictor: PredictorConfig{
			Enabled:          true,
			PredictNextSteps: true,
			DraftReplies:     true,
			DraftFollowUps:   true,
			DraftListings:    true,
			MaxDraftsPerDay:  50,
			Cooldown:         2 * time.Minute,
			HistoryLimit:     30,
			Limiter:          "redis",
		},
		Search:     SearchConfig{DefaultLimit: 5},
		Compaction: CompactionConfig{RecentMessages: 20, CacheTTL: time.Hour},
		Events: EventsConfig{
			Stream:     "agentcore:sync",
			Group:      "agentcore-sync",
			Consumer:   "worker-1",
			MaxRetries: 5,
			DeadLetter: "agentcore:sync:dead",
			Block:      2 * time.Second,
		},
		Schedules: SchedulesConfig{FollowUpSpec: "*/15 * * * *"},
		Tracing:   TracingConfig{ServiceName: "agentcore"},
		Metrics:   MetricsConfig{Enabled: true, Port: 2112},
		Admin:     AdminConfig{Port: 8081, RequestTimeout: 2 * time.Minute, HealthInterval: 30 * time.Second},
		Watch:     WatchConfig{Enabled: true, Dir: "config"},
	}
}

// DefaultConfigPath is read when neither a path nor AGENTCORE_CONFIG is given
const DefaultConfigPath = "config/agentcore.yaml"

// Load reads the YAML file at path (or AGENTCORE_CONFIG, then
// DefaultConfigPath) over DefaultConfig. AGENTCORE_* environment variables
// override both, with nested keys joined by underscores
// (AGENTCORE_PREDICTOR_MAX_DRAFTS_PER_DAY).
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AGENTCORE_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("environment", d.Environment)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.flash_model", d.LLM.FlashModel)
	v.SetDefault("llm.pro_model", d.LLM.ProModel)
	v.SetDefault("llm.thinking_model", d.LLM.ThinkingModel)
	v.SetDefault("llm.timeout", d.LLM.Timeout)

	v.SetDefault("embeddings.provider", d.Embeddings.Provider)
	v.SetDefault("embeddings.base_url", d.Embeddings.BaseURL)
	v.SetDefault("embeddings.api_key", d.Embeddings.APIKey)
	v.SetDefault("embeddings.model", d.Embeddings.Model)
	v.SetDefault("embeddings.dimensions", d.Embeddings.Dimensions)
	v.SetDefault("embeddings.timeout", d.Embeddings.Timeout)
	v.SetDefault("embeddings.cache_ttl", d.Embeddings.CacheTTL)
	v.SetDefault("embeddings.lru_capacity", d.Embeddings.LRUCapacity)
	v.SetDefault("embeddings.enable_redis", d.Embeddings.EnableRedis)
	v.SetDefault("embeddings.max_batch", d.Embeddings.MaxBatch)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.write_queue_size", d.Database.WriteQueueSize)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("qdrant.enabled", d.Qdrant.Enabled)
	v.SetDefault("qdrant.url", d.Qdrant.URL)
	v.SetDefault("qdrant.collection", d.Qdrant.Collection)
	v.SetDefault("qdrant.timeout", d.Qdrant.Timeout)

	v.SetDefault("memory.backend", d.Memory.Backend)
	v.SetDefault("skills.root", d.Skills.Root)
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout)
	v.SetDefault("policy.overlay_dir", d.Policy.OverlayDir)
	v.SetDefault("policy.mode", d.Policy.Mode)
	v.SetDefault("policy.fail_closed", d.Policy.FailClosed)
	v.SetDefault("pricing.override_path", d.Pricing.OverridePath)
	v.SetDefault("rate_limits.path", d.RateLimits.Path)

	v.SetDefault("predictor.enabled", d.Predictor.Enabled)
	v.SetDefault("predictor.predict_next_steps", d.Predictor.PredictNextSteps)
	v.SetDefault("predictor.draft_replies", d.Predictor.DraftReplies)
	v.SetDefault("predictor.draft_follow_ups", d.Predictor.DraftFollowUps)
	v.SetDefault("predictor.draft_listing_alerts", d.Predictor.DraftListings)
	v.SetDefault("predictor.max_drafts_per_day", d.Predictor.MaxDraftsPerDay)
	v.SetDefault("predictor.cooldown", d.Predictor.Cooldown)
	v.SetDefault("predictor.history_limit", d.Predictor.HistoryLimit)
	v.SetDefault("predictor.limiter", d.Predictor.Limiter)

	v.SetDefault("search.default_limit", d.Search.DefaultLimit)
	v.SetDefault("compaction.recent_messages", d.Compaction.RecentMessages)
	v.SetDefault("compaction.cache_ttl", d.Compaction.CacheTTL)

	v.SetDefault("events.stream", d.Events.Stream)
	v.SetDefault("events.group", d.Events.Group)
	v.SetDefault("events.consumer", d.Events.Consumer)
	v.SetDefault("events.max_retries", d.Events.MaxRetries)
	v.SetDefault("events.dead_letter", d.Events.DeadLetter)
	v.SetDefault("events.block", d.Events.Block)

	v.SetDefault("schedules.follow_up_spec", d.Schedules.FollowUpSpec)
	v.SetDefault("schedules.min_interval_mins", d.Schedules.MinIntervalMins)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("admin.port", d.Admin.Port)
	v.SetDefault("admin.request_timeout", d.Admin.RequestTimeout)
	v.SetDefault("admin.health_interval", d.Admin.HealthInterval)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.dir", d.Watch.Dir)
}

// GetEnvOrDefault returns the environment value for key or def when unset
func GetEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvBool parses a boolean environment variable, returning def when unset or invalid
func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDuration parses a duration environment variable, returning def when unset or invalid
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
