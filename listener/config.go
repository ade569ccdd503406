package listener

import "time"

// Config configures one listening endpoint. TLS, WebSocket and Unix
// socket framing are built by the caller and handed in as a plain
// net.Listener; Config only describes what the accept loop needs plus
// the per-endpoint session defaults a CONNECT handshake falls back to.
type Config struct {
	// ListenerID identifies this endpoint in every SessionGid it mints.
	ListenerID uint32

	Address        string
	AcceptTimeout  time.Duration
	MaxConnections int

	// DefaultKeepAlive is used when a CONNECT's keep-alive is zero and
	// the broker chooses not to disable the timeout outright.
	DefaultKeepAlive time.Duration
	ConnectTimeout   time.Duration

	AllowEmptyClientID      bool
	MaximumInflightMessages int
}

// DefaultConfig returns a Config with reasonable accept-loop and
// session-level defaults for one endpoint.
func DefaultConfig(listenerID uint32, address string) *Config {
	return &Config{
		ListenerID:              listenerID,
		Address:                 address,
		AcceptTimeout:           5 * time.Second,
		MaxConnections:          10000,
		DefaultKeepAlive:        60 * time.Second,
		ConnectTimeout:          10 * time.Second,
		AllowEmptyClientID:      true,
		MaximumInflightMessages: 20,
	}
}
