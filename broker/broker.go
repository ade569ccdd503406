// Package broker wires the codec, session, dispatcher, auth, acl,
// metrics and listener packages into one running MQTT broker. It is
// the library surface a CLI binary would call; it never parses a
// config file or a flag itself.
package broker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nimbusmq/broker/acl"
	"github.com/nimbusmq/broker/auth"
	"github.com/nimbusmq/broker/config"
	"github.com/nimbusmq/broker/dispatcher"
	"github.com/nimbusmq/broker/internal/log"
	"github.com/nimbusmq/broker/listener"
	"github.com/nimbusmq/broker/metrics"
	"github.com/nimbusmq/broker/persist"
	"github.com/nimbusmq/broker/session"
)

// Broker owns every long-lived component of a running instance: the
// session manager, dispatcher, metrics reporter, and one accept loop
// per configured listener. Run blocks until Shutdown is called or ctx
// is canceled.
type Broker struct {
	cfg config.BrokerConfig
	log *slog.Logger

	sessions   *session.Manager
	dispatcher *dispatcher.Dispatcher
	auth       *auth.Authenticator
	authz      acl.Authorizer
	metrics    *metrics.Collector
	reporter   *metrics.Reporter

	mu        sync.Mutex
	listeners []runningListener

	closers []io.Closer
}

type runningListener struct {
	cfg *listener.Config
	l   *listener.Listener
	ln  net.Listener
}

// Option customizes a Broker at construction time, for callers that
// need to substitute a component this package would otherwise build
// itself (e.g. a policy-based acl.Authorizer).
type Option func(*Broker)

// WithAuthorizer overrides the default accept-all acl.Authorizer.
func WithAuthorizer(authz acl.Authorizer) Option {
	return func(b *Broker) { b.authz = authz }
}

// WithLogger overrides the default internal/log logger used by every
// component this package constructs.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.log = logger }
}

// New builds a Broker from cfg but does not start accepting
// connections; call Run to do that.
func New(cfg config.BrokerConfig, opts ...Option) (*Broker, error) {
	b := &Broker{cfg: cfg, authz: acl.NewAllowAll()}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = log.New(slog.LevelInfo, nil)
	}

	sessionStore, closer, err := buildSessionStore(cfg.Persist)
	if err != nil {
		return nil, fmt.Errorf("broker: build session store: %w", err)
	}
	if closer != nil {
		b.closers = append(b.closers, closer)
	}

	b.sessions = session.NewManager(session.ManagerConfig{
		Store:               sessionStore,
		ExpiryCheckInterval: cfg.Session.ExpiryCheckInterval,
		AssignedIDPrefix:    cfg.Session.AssignedIDPrefix,
	})

	b.metrics = metrics.New()

	b.dispatcher = dispatcher.New(dispatcher.Config{
		Sessions: b.sessions,
		Retained: persist.NewRetainedStore(),
		Metrics:  b.metrics,
		Logger:   b.log,
	})

	b.auth = auth.New(cfg.Auth.AllowAnonymous)
	if cfg.Auth.PasswordFile != "" {
		if err := b.auth.LoadFile(cfg.Auth.PasswordFile); err != nil {
			return nil, fmt.Errorf("broker: load password file: %w", err)
		}
	}

	b.reporter = metrics.NewReporter(b.metrics, b.dispatcher, cfg.Metrics.ReportInterval, b.log)

	for _, lc := range cfg.Listeners {
		sup := listener.NewSupervisor(listener.SupervisorConfig{
			Dispatcher:    b.dispatcher,
			Authenticator: b.auth,
			Authorizer:    b.authz,
			Metrics:       b.metrics,
			Logger:        b.log,
		})
		lcfg := lc.ToListenerConfig()
		b.dispatcher.RegisterListener(lcfg.ListenerID, sup)
		b.listeners = append(b.listeners, runningListener{
			cfg: lcfg,
			l:   listener.New(lcfg, sup, b.log),
		})
	}

	return b, nil
}

// buildSessionStore constructs the session.Store this broker persists
// sessions with, plus an io.Closer for the underlying backend.
func buildSessionStore(cfg config.PersistConfig) (session.Store, io.Closer, error) {
	switch cfg.Backend {
	case "", config.StoreBackendMemory:
		backend := persist.NewMemoryStore[*session.Record]()
		return session.NewPersistStore(backend), backend, nil
	case config.StoreBackendPebble:
		backend, err := persist.NewPebbleStore[*session.Record](persist.PebbleStoreConfig{
			Path:   cfg.PebblePath,
			Prefix: cfg.PebblePrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return session.NewPersistStore(backend), backend, nil
	case config.StoreBackendRedis:
		backend, err := persist.NewRedisStore[*session.Record](persist.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return session.NewPersistStore(backend), backend, nil
	default:
		return nil, nil, fmt.Errorf("broker: unknown persist backend %q", cfg.Backend)
	}
}

// Run opens every configured listener's TCP socket and blocks until
// ctx is canceled or a listener fails to bind. Each accept loop runs
// in its own goroutine; Run returns once they have all exited.
func (b *Broker) Run(ctx context.Context) error {
	b.reporter.Start(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, len(b.listeners))

	b.mu.Lock()
	for i := range b.listeners {
		rl := &b.listeners[i]
		ln, err := net.Listen("tcp", rl.cfg.Address)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("broker: listen on %s: %w", rl.cfg.Address, err)
		}
		rl.ln = ln

		wg.Add(1)
		go func(rl *runningListener) {
			defer wg.Done()
			if err := rl.l.Serve(ctx, rl.ln); err != nil {
				errCh <- fmt.Errorf("broker: listener %d: %w", rl.cfg.ListenerID, err)
			}
		}(rl)
	}
	b.mu.Unlock()

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown stops the metrics reporter, closes every listener socket,
// waits for their accept loops to quiesce (or ctx to expire, whichever
// comes first), and releases the persistence backend.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.reporter.Stop()

	b.mu.Lock()
	var err error
	for _, rl := range b.listeners {
		if rl.ln != nil {
			if cerr := rl.ln.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	listeners := make([]runningListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		active := int64(0)
		for _, rl := range listeners {
			active += rl.l.Stats().Active
		}
		if active == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-ticker.C:
		}
	}

	if serr := b.sessions.Close(); serr != nil && err == nil {
		err = serr
	}

	for _, c := range b.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Reload applies a new AuthConfig's password file and anonymous policy
// to the running authenticator without restarting any listener.
// Listener topology, persistence backend, and session defaults are
// fixed for the lifetime of a Broker; changing those requires a new
// instance.
func (b *Broker) Reload(cfg config.AuthConfig) error {
	b.auth.SetAllowAnonymous(cfg.AllowAnonymous)
	if cfg.PasswordFile == "" {
		return nil
	}
	return b.auth.LoadFile(cfg.PasswordFile)
}

// Dispatcher returns the broker's dispatcher, primarily for tests and
// for callers that want to publish synthetic messages (e.g. a
// metrics.Reporter external to this package).
func (b *Broker) Dispatcher() *dispatcher.Dispatcher {
	return b.dispatcher
}
