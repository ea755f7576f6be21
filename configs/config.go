package configs

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PORTFOLIO_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		GRPCAddr string `koanf:"grpc_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		CORSOrigins     []string      `koanf:"cors_origins"`
	} `koanf:"http"`

	Storage struct {
		Driver          string        `koanf:"driver"` // mysql | postgres | sqlite | memory
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"storage"`

	Redis struct {
		Addr     string `koanf:"addr"` // empty disables the cache and idempotency keys
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		URL      string `koanf:"url"` // empty disables order events
		Prefetch int    `koanf:"prefetch"`
		Audit    bool   `koanf:"audit"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers      []string `koanf:"brokers"` // empty disables both feeds
		GroupID      string   `koanf:"group_id"`
		PaymentTopic string   `koanf:"payment_topic"`
		TaskTopic    string   `koanf:"task_topic"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret  string        `koanf:"jwt_secret"`
		Issuer     string        `koanf:"issuer"`
		Audience   string        `koanf:"audience"`
		TTL        time.Duration `koanf:"ttl"`
		BcryptCost int           `koanf:"bcrypt_cost"`
	} `koanf:"security"`

	Tasks struct {
		MaxConcurrent   int64 `koanf:"max_concurrent"`
		FailureOneIn    int   `koanf:"failure_one_in"` // 0 disables simulated failures
		SubmitPerMinute int   `koanf:"submit_per_minute"`
	} `koanf:"tasks"`
}

// Load layers <dir>/base.yaml, the optional <dir>/<envName>.yaml and
// PORTFOLIO_* environment variables, in that order. A .env file in the
// working directory is read into the environment first when present.
func Load(pathDir, envName string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix PORTFOLIO_, nested with __)
	// e.g. PORTFOLIO_STORAGE__DSN, PORTFOLIO_SECURITY__JWT_SECRET
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql", "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of mysql, postgres, sqlite, memory (got %q)", c.Storage.Driver)
	}
	if len(c.Security.JWTSecret) < 16 {
		return fmt.Errorf("security.jwt_secret must be at least 16 bytes")
	}
	if c.Security.TTL <= 0 {
		return fmt.Errorf("security.ttl must be positive")
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks.max_concurrent must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.PaymentTopic != "" && c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id required when kafka.payment_topic is set")
	}
	return nil
}
