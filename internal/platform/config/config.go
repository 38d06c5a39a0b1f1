package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures process level configuration. It is built once in main and
// handed to every component; nothing below main reads the environment.
type Server struct {
	Addr            string        `env:"KYC_GATEWAY_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Redis    RedisConfig
	Database DatabaseConfig
	Audit    AuditConfig

	// Verification is resolved separately so a malformed value there never
	// fails process start.
	Verification Verification
}

// RedisConfig configures the optional Redis client backing the state replay guard.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// DatabaseConfig configures the optional PostgreSQL verification store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// AuditConfig configures where audit events are shipped. Without brokers the
// events go to the structured log.
type AuditConfig struct {
	KafkaBrokers []string `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"AUDIT_KAFKA_TOPIC" envDefault:"kyc.audit"`
}

// FromEnv builds the Server config from the process environment.
func FromEnv() (Server, error) {
	return Load(env.ToMap(os.Environ()))
}

// Load builds the Server config from an explicit environment map.
func Load(environ map[string]string) (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Verification = ResolveVerification(environ)
	return cfg, nil
}
