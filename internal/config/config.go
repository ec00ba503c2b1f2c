// Package config builds the immutable configuration record each component
// is constructed with. Per spec §9's redesign flag against global
// environment-configured singletons, nothing here is read lazily from the
// process environment by business code — Load() is called once at
// startup and the resulting *Config is threaded explicitly into every
// component constructor.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment-backed configuration surface from
// spec.md §6. Not every component reads every field; each cmd/ entry
// point picks out what it needs.
type Config struct {
	// Identity
	NodeID string `env:"NODE_ID" envDefault:"A"`
	PeerID string `env:"PEER_ID" envDefault:"B"`

	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// CC
	CCMode    string `env:"CC_MODE" envDefault:"serial"`
	CCWorkers int    `env:"CC_WORKERS" envDefault:"8"`

	// HB
	HeartbeatIntervalMs int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"2000"`

	// OL / RP
	SnapshotIntervalOps int `env:"SNAPSHOT_INTERVAL_OPS" envDefault:"500"`
	OLRetainLastN       int `env:"OL_RETAIN_LAST_N" envDefault:"1000"`

	// SM business rules
	LoanDurationDays  int `env:"LOAN_DURATION_DAYS" envDefault:"14"`
	RenewDurationDays int `env:"RENEW_DURATION_DAYS" envDefault:"7"`
	MaxRenewals       int `env:"MAX_RENEWALS" envDefault:"2"`

	// Endpoints — REQ/REP (HTTP)
	CCClientAddr  string `env:"CC_CLIENT_ADDR" envDefault:":5555"`
	LoanRepAddr   string `env:"LOAN_REP_ADDR" envDefault:":5557"`
	SMRepAddr     string `env:"SM_REP_ADDR" envDefault:":5560"`
	HealthRepAddr string `env:"HEALTH_REP_ADDR" envDefault:":5564"`

	// Endpoints — PUB/SUB (Redis)
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPeerAddr  string `env:"REDIS_PEER_ADDR" envDefault:"localhost:6379"`
	TopicRenovacion string `env:"TOPIC_RENOVACION" envDefault:"RENOVACION"`
	TopicDevolucion string `env:"TOPIC_DEVOLUCION" envDefault:"DEVOLUCION"`
	ReplChannelPrefix string `env:"REPL_CHANNEL_PREFIX" envDefault:"repl"`
	HBChannel       string `env:"HB_CHANNEL" envDefault:"hb"`

	Pretty bool `env:"PRETTY" envDefault:"false"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`
}

// Load reads configuration from the process environment. Flags from the
// Cobra command layer are applied on top of the returned value by each
// cmd/ entry point, which is also why fields are exported and mutable on
// the struct itself even though a *Config is treated as immutable once
// handed to a component constructor.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}
