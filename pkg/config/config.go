package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8000"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"text"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"20"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
		ConnectAttempts int           `yaml:"connect_attempts" default:"5"`
		ConnectBackoff  time.Duration `yaml:"connect_backoff" default:"1s"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		Table            string        `yaml:"table" default:"coin_metrics"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"zstd"`
		MetricsTopic string   `yaml:"metrics_topic" default:"coin-metrics"`
		AlertsTopic  string   `yaml:"alerts_topic" default:"coin-alerts"`
		LogsTopic    string   `yaml:"logs_topic"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"coinpulse-prediction"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"2"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"coinpulse"`

		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`

		// used when redis is disabled
		MemoryMaxSize int           `yaml:"memory_max_size" default:"10000"`
		MemoryCleanup time.Duration `yaml:"memory_cleanup" default:"1m"`
	} `yaml:"redis"`
	Training struct {
		ModelStoragePath  string        `yaml:"model_storage_path" default:"./models"`
		MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" default:"2"`
		JobPollInterval   time.Duration `yaml:"job_poll_interval" default:"5s"`
		StuckThreshold    time.Duration `yaml:"stuck_threshold" default:"10m"`
		MinRowsPerCoin    int           `yaml:"min_rows_per_coin" default:"30"`
	} `yaml:"training"`
	Prediction struct {
		TrainingServiceURL    string        `yaml:"training_service_url" default:"http://localhost:8000"`
		ModelTimeout          time.Duration `yaml:"model_timeout" default:"30s"`
		RecoveryTimeout       time.Duration `yaml:"recovery_timeout" default:"60s"`
		ArtifactCacheSize     int           `yaml:"artifact_cache_size" default:"16"`
		ActiveRefreshInterval time.Duration `yaml:"active_refresh_interval" default:"30s"`
		MinEventInterval      time.Duration `yaml:"min_event_interval" default:"1s"`
		EventBufferSize       int           `yaml:"event_buffer_size" default:"1000"`
		Stream                struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url"`
			CoinIDs        []string      `yaml:"coin_ids"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		} `yaml:"stream"`
	} `yaml:"prediction"`
	Alerts struct {
		SweepInterval  time.Duration `yaml:"sweep_interval" default:"30s"`
		Grace          time.Duration `yaml:"grace" default:"15m"`
		DefaultHorizon time.Duration `yaml:"default_horizon" default:"10m"`
		BatchSize      int           `yaml:"batch_size" default:"500"`
	} `yaml:"alerts"`
	Dispatch struct {
		WebhookTimeout time.Duration `yaml:"webhook_timeout" default:"10s"`
	} `yaml:"dispatch"`
}

// Load reads a YAML file (optional when path is empty), applies defaults and validates.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env, the YAML file and then environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("MODEL_STORAGE_PATH"); v != "" {
		c.Training.ModelStoragePath = v
	}
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_JOBS: %w", err)
		}
		c.Training.MaxConcurrentJobs = n
	}
	if v := os.Getenv("JOB_POLL_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("JOB_POLL_INTERVAL: %w", err)
		}
		c.Training.JobPollInterval = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			n, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
			c.Redis.Port = n
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("TRAINING_SERVICE_URL"); v != "" {
		c.Prediction.TrainingServiceURL = v
	}
	return nil
}

// parseInterval accepts Go durations ("5s") or bare seconds ("5").
func parseInterval(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn (DB_DSN) is required")
	}
	if c.Training.ModelStoragePath == "" {
		return fmt.Errorf("training.model_storage_path (MODEL_STORAGE_PATH) is required")
	}
	if c.Training.MaxConcurrentJobs < 1 {
		return fmt.Errorf("training.max_concurrent_jobs must be >= 1, got %d", c.Training.MaxConcurrentJobs)
	}
	if c.Training.JobPollInterval <= 0 {
		return fmt.Errorf("training.job_poll_interval must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Prediction.Stream.Enabled && c.Prediction.Stream.URL == "" {
		return fmt.Errorf("prediction.stream.url is required when the stream is enabled")
	}
	return nil
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
