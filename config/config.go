// Package config holds the plain, already-validated settings every
// broker component is constructed with. Nothing here reads a file, a
// flag, or an environment variable — that belongs to the CLI/loader
// that sits outside this core and populates a BrokerConfig before
// calling broker.New.
package config

import (
	"time"

	"github.com/nimbusmq/broker/listener"
)

// StoreBackend selects which persist.Store implementation backs
// session storage. Retained messages are always held in memory.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendPebble StoreBackend = "pebble"
	StoreBackendRedis  StoreBackend = "redis"
)

// ListenerConfig configures one MQTT listening endpoint. TLS,
// WebSocket and Unix socket framing are built by the caller; this
// struct only carries what listener.Config needs plus the address it
// binds.
type ListenerConfig struct {
	ID      uint32
	Address string

	AcceptTimeout  time.Duration
	MaxConnections int

	DefaultKeepAlive time.Duration
	ConnectTimeout   time.Duration

	AllowEmptyClientID      bool
	MaximumInflightMessages int
}

// DefaultListenerConfig returns a ListenerConfig with the same
// defaults listener.DefaultConfig would build for this address.
func DefaultListenerConfig(id uint32, address string) ListenerConfig {
	return ListenerConfig{
		ID:                      id,
		Address:                 address,
		AcceptTimeout:           5 * time.Second,
		MaxConnections:          10000,
		DefaultKeepAlive:        60 * time.Second,
		ConnectTimeout:          10 * time.Second,
		AllowEmptyClientID:      true,
		MaximumInflightMessages: 20,
	}
}

// ToListenerConfig builds the listener.Config this endpoint needs at
// accept-loop construction time.
func (c ListenerConfig) ToListenerConfig() *listener.Config {
	return &listener.Config{
		ListenerID:              c.ID,
		Address:                 c.Address,
		AcceptTimeout:           c.AcceptTimeout,
		MaxConnections:          c.MaxConnections,
		DefaultKeepAlive:        c.DefaultKeepAlive,
		ConnectTimeout:          c.ConnectTimeout,
		AllowEmptyClientID:      c.AllowEmptyClientID,
		MaximumInflightMessages: c.MaximumInflightMessages,
	}
}

// AuthConfig configures the authenticator.
type AuthConfig struct {
	AllowAnonymous bool
	// PasswordFile is the username:salt:hash record file to load. Empty
	// means no password file is loaded at startup; AllowAnonymous alone
	// then governs every CONNECT.
	PasswordFile string
}

// DefaultAuthConfig allows anonymous connections and loads no password
// file, matching a broker with no authentication configured yet.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{AllowAnonymous: true}
}

// MetricsConfig configures the Prometheus collector and the periodic
// $SYS/broker/... reporter. ReportInterval <= 0 disables the reporter
// loop entirely.
type MetricsConfig struct {
	ReportInterval time.Duration
}

// DefaultMetricsConfig reports $SYS gauges once every ten seconds, the
// same ticker-driven-goroutine cadence used elsewhere in this broker
// for periodic bookkeeping (session.ManagerConfig.ExpiryCheckInterval).
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{ReportInterval: 10 * time.Second}
}

// PersistConfig selects and configures the storage backend for
// sessions; retained messages are always held in memory. Only the
// fields relevant to Backend are read.
type PersistConfig struct {
	Backend StoreBackend

	// Pebble
	PebblePath   string
	PebblePrefix string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration
}

// DefaultPersistConfig keeps everything in memory, suitable for a
// broker with no durability requirement.
func DefaultPersistConfig() PersistConfig {
	return PersistConfig{Backend: StoreBackendMemory}
}

// SessionConfig configures the session manager's background expiry
// sweep and assigned-client-id generation.
type SessionConfig struct {
	ExpiryCheckInterval time.Duration
	AssignedIDPrefix    string
}

// DefaultSessionConfig checks for expired sessions once a minute.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ExpiryCheckInterval: time.Minute,
		AssignedIDPrefix:    "auto-",
	}
}

// BrokerConfig is the full, validated configuration for one broker
// instance. A CLI or TOML loader builds one of these and hands it to
// broker.New; this core never constructs one from anything but Go
// values.
type BrokerConfig struct {
	Listeners []ListenerConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Persist   PersistConfig
	Session   SessionConfig
}

// DefaultBrokerConfig returns a single plaintext listener on the
// standard MQTT port with every sub-config at its own default.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Listeners: []ListenerConfig{DefaultListenerConfig(1, ":1883")},
		Auth:      DefaultAuthConfig(),
		Metrics:   DefaultMetricsConfig(),
		Persist:   DefaultPersistConfig(),
		Session:   DefaultSessionConfig(),
	}
}
