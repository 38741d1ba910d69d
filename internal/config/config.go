package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	BullMQ     BullMQConfig     `mapstructure:"bullmq"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// HTTPConfig governs the thin ops-only surface (health + metrics). The
// CRUD API over users/phone-numbers/schedules/campaigns is a separate
// collaborating service and is not implemented here.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	DispatchTopic   string        `mapstructure:"dispatch_topic"`
	StatusTopic     string        `mapstructure:"status_topic"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

// SchedulerConfig governs the Scheduler Loop: how often it ticks and
// how many due tasks it claims per tick.
type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ClaimBatchSize int           `mapstructure:"claim_batch_size"`
}

// WorkerConfig governs the Worker Pool: its per-campaign concurrency
// gate TTL and its global rate cap.
type WorkerConfig struct {
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	ConcurrencyGateTTL time.Duration `mapstructure:"concurrency_gate_ttl"`
	DispatchDedupTTL   time.Duration `mapstructure:"dispatch_dedup_ttl"`
}

// SweeperConfig governs the orphan sweeper: how often it runs and how
// long a task may sit in-progress before being considered abandoned.
type SweeperConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	OrphanThreshold  time.Duration `mapstructure:"orphan_threshold"`
}

// BullMQConfig carries the retry defaults. The names mirror the
// upstream system's BullMQ-based job queue so operators migrating
// tooling and dashboards do not need to relearn the knobs, even though
// this implementation backs them with Kafka and Postgres rather than
// BullMQ itself.
type BullMQConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type CallBridgeConfig struct {
	ProviderName   string `mapstructure:"provider_name"`
	SimulationSeed int64  `mapstructure:"simulation_seed"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	// BULLMQ_* names are a fixed external contract: bind them without
	// the OUTBOUND_ prefix so existing tooling keeps working.
	_ = v.BindEnv("bullmq.max_retries", "BULLMQ_MAX_RETRIES")
	_ = v.BindEnv("bullmq.retry_delay", "BULLMQ_RETRY_DELAY")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
