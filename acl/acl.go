// Package acl decides whether a session may publish or subscribe to a
// given topic. The default implementation accepts everything; the
// Authorizer interface is the hook point for a policy-based
// implementation to bind against without touching the dispatcher or
// listener code that calls it.
package acl

import "github.com/nimbusmq/broker/session"

// Access identifies the kind of operation being authorized.
type Access byte

const (
	AccessSubscribe Access = iota
	AccessPublish
)

// Authorizer decides per-topic access for a session. Implementations
// must always return a decision: a rejected publish must never reach
// the dispatcher, and a rejected subscribe must return its failure code
// without entering the trie. Callers rely on this method never blocking
// indefinitely.
type Authorizer interface {
	Authorize(gid session.SessionGid, clientID, topic string, access Access) bool
}

// AllowAll is the default Authorizer: every operation is permitted.
type AllowAll struct{}

// NewAllowAll returns an Authorizer that accepts every request.
func NewAllowAll() *AllowAll {
	return &AllowAll{}
}

func (AllowAll) Authorize(session.SessionGid, string, string, Access) bool {
	return true
}
