package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultListenerConfig(t *testing.T) {
	cfg := DefaultListenerConfig(3, "0.0.0.0:1883")

	assert.Equal(t, uint32(3), cfg.ID)
	assert.Equal(t, "0.0.0.0:1883", cfg.Address)
	assert.Equal(t, 5*time.Second, cfg.AcceptTimeout)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 60*time.Second, cfg.DefaultKeepAlive)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.AllowEmptyClientID)
	assert.Equal(t, 20, cfg.MaximumInflightMessages)
}

func TestListenerConfigToListenerConfig(t *testing.T) {
	cfg := DefaultListenerConfig(3, "0.0.0.0:1883")
	lc := cfg.ToListenerConfig()

	assert.Equal(t, cfg.ID, lc.ListenerID)
	assert.Equal(t, cfg.Address, lc.Address)
	assert.Equal(t, cfg.AcceptTimeout, lc.AcceptTimeout)
	assert.Equal(t, cfg.MaxConnections, lc.MaxConnections)
	assert.Equal(t, cfg.DefaultKeepAlive, lc.DefaultKeepAlive)
	assert.Equal(t, cfg.ConnectTimeout, lc.ConnectTimeout)
	assert.Equal(t, cfg.AllowEmptyClientID, lc.AllowEmptyClientID)
	assert.Equal(t, cfg.MaximumInflightMessages, lc.MaximumInflightMessages)
}

func TestDefaultAuthConfig(t *testing.T) {
	cfg := DefaultAuthConfig()
	assert.True(t, cfg.AllowAnonymous)
	assert.Empty(t, cfg.PasswordFile)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.Equal(t, 10*time.Second, cfg.ReportInterval)
}

func TestDefaultPersistConfig(t *testing.T) {
	cfg := DefaultPersistConfig()
	assert.Equal(t, StoreBackendMemory, cfg.Backend)
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, time.Minute, cfg.ExpiryCheckInterval)
	assert.Equal(t, "auto-", cfg.AssignedIDPrefix)
}

func TestDefaultBrokerConfig(t *testing.T) {
	cfg := DefaultBrokerConfig()
	assert.Len(t, cfg.Listeners, 1)
	assert.Equal(t, ":1883", cfg.Listeners[0].Address)
	assert.True(t, cfg.Auth.AllowAnonymous)
	assert.Equal(t, StoreBackendMemory, cfg.Persist.Backend)
}
