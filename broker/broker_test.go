package broker

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusmq/broker/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.BrokerConfig {
	t.Helper()
	cfg := config.DefaultBrokerConfig()
	cfg.Listeners = []config.ListenerConfig{config.DefaultListenerConfig(1, "127.0.0.1:0")}
	cfg.Metrics.ReportInterval = 0
	return cfg
}

func TestNewBuildsEveryComponent(t *testing.T) {
	b, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, b.sessions)
	require.NotNil(t, b.dispatcher)
	require.NotNil(t, b.auth)
	require.NotNil(t, b.metrics)
	require.Len(t, b.listeners, 1)
}

func TestRunAndShutdown(t *testing.T) {
	b, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	// give the accept loop a moment to bind before tearing down.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Shutdown(context.Background()))
	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestReloadUpdatesAuthenticator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.AllowAnonymous = false
	b, err := New(cfg)
	require.NoError(t, err)

	require.False(t, b.auth.Authenticate("", nil))

	require.NoError(t, b.Reload(config.AuthConfig{AllowAnonymous: true}))
	require.True(t, b.auth.Authenticate("", nil))
}

func TestDispatcherAccessor(t *testing.T) {
	b, err := New(testConfig(t))
	require.NoError(t, err)
	require.Same(t, b.dispatcher, b.Dispatcher())
}

func TestBuildSessionStoreUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persist.Backend = "nonsense"
	_, err := New(cfg)
	require.Error(t, err)
}
