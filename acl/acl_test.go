package acl

import (
	"testing"

	"github.com/nimbusmq/broker/session"
	"github.com/stretchr/testify/assert"
)

func TestAllowAll_Authorize(t *testing.T) {
	a := NewAllowAll()
	gid := session.SessionGid{ListenerID: 1, SessionID: 1}

	assert.True(t, a.Authorize(gid, "client1", "home/temperature", AccessPublish))
	assert.True(t, a.Authorize(gid, "client1", "home/+/temperature", AccessSubscribe))
	assert.True(t, a.Authorize(gid, "", "$SYS/broker/uptime", AccessSubscribe))
}
