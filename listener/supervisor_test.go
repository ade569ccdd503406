package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nimbusmq/broker/auth"
	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/dispatcher"
	"github.com/nimbusmq/broker/persist"
	"github.com/nimbusmq/broker/session"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*dispatcher.Dispatcher, *Supervisor) {
	t.Helper()
	mgr := session.NewManager(session.ManagerConfig{Store: session.NewMemoryStore()})
	t.Cleanup(func() { _ = mgr.Close() })

	d := dispatcher.New(dispatcher.Config{Sessions: mgr, Retained: persist.NewRetainedStore()})
	sup := NewSupervisor(SupervisorConfig{
		Dispatcher:    d,
		Authenticator: auth.New(true),
	})
	d.RegisterListener(1, sup)
	return d, sup
}

func connectAndHandshake(t *testing.T, sup *Supervisor, connect *codec.Connect) (net.Conn, *codec.Connack) {
	t.Helper()
	return connectAndHandshakeWithConfig(t, sup, connect, DefaultConfig(1, "test"))
}

func connectAndHandshakeWithConfig(t *testing.T, sup *Supervisor, connect *codec.Connect, cfg *Config) (net.Conn, *codec.Connack) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	go sup.handleConn(context.Background(), serverConn, cfg)

	require.NoError(t, codec.Encode(clientConn, connect))

	pkt, err := codec.Decode(clientConn, connect.ProtocolLevel)
	require.NoError(t, err)
	ack, ok := pkt.(*codec.Connack)
	require.True(t, ok)
	return clientConn, ack
}

func TestSupervisor_ConnectAcceptsAnonymous(t *testing.T) {
	_, sup := newTestBroker(t)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4,
		ProtocolName:  "MQTT",
		CleanStart:    true,
		ClientID:      "dev-1",
		KeepAlive:     60,
	})
	defer conn.Close()

	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)
	require.False(t, ack.SessionPresent)
}

func TestSupervisor_ConnectRejectsBadCredentials(t *testing.T) {
	mgr := session.NewManager(session.ManagerConfig{Store: session.NewMemoryStore()})
	defer mgr.Close()
	d := dispatcher.New(dispatcher.Config{Sessions: mgr, Retained: persist.NewRetainedStore()})
	sup := NewSupervisor(SupervisorConfig{Dispatcher: d, Authenticator: auth.New(false)})
	d.RegisterListener(1, sup)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4,
		ProtocolName:  "MQTT",
		CleanStart:    true,
		ClientID:      "dev-1",
	})
	defer conn.Close()

	require.Equal(t, codec.ReasonBadUserNameOrPassword, ack.ReasonCode)
}

func TestSupervisor_ConnectGeneratesClientID(t *testing.T) {
	_, sup := newTestBroker(t)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4,
		ProtocolName:  "MQTT",
		CleanStart:    true,
	})
	defer conn.Close()

	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)
}

func TestSupervisor_PublishSubscribeRoundTrip(t *testing.T) {
	_, sup := newTestBroker(t)

	subConn, subAck := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4, ProtocolName: "MQTT", CleanStart: true, ClientID: "sub-1", KeepAlive: 60,
	})
	defer subConn.Close()
	require.Equal(t, codec.ReasonSuccess, subAck.ReasonCode)

	require.NoError(t, codec.Encode(subConn, &codec.Subscribe{
		ProtocolLevel: codec.V4,
		PacketID:      1,
		Subscriptions: []codec.SubscriptionRequest{{TopicFilter: "a/b", QoS: codec.QoS0}},
	}))
	pkt, err := codec.Decode(subConn, codec.V4)
	require.NoError(t, err)
	suback, ok := pkt.(*codec.Suback)
	require.True(t, ok)
	require.Equal(t, codec.ReasonGrantedQoS0, suback.ReasonCodes[0])

	pubConn, pubAck := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4, ProtocolName: "MQTT", CleanStart: true, ClientID: "pub-1", KeepAlive: 60,
	})
	defer pubConn.Close()
	require.Equal(t, codec.ReasonSuccess, pubAck.ReasonCode)

	require.NoError(t, codec.Encode(pubConn, &codec.Publish{
		ProtocolLevel: codec.V4,
		QoS:           codec.QoS0,
		TopicName:     "a/b",
		Payload:       []byte("hello"),
	}))

	done := make(chan *codec.Publish, 1)
	go func() {
		p, err := codec.Decode(subConn, codec.V4)
		if err != nil {
			done <- nil
			return
		}
		if pub, ok := p.(*codec.Publish); ok {
			done <- pub
		} else {
			done <- nil
		}
	}()

	select {
	case pub := <-done:
		require.NotNil(t, pub)
		require.Equal(t, "a/b", pub.TopicName)
		require.Equal(t, []byte("hello"), pub.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fan-out publish")
	}
}

func TestSupervisor_ClientIDTakeoverDisconnectsPriorConnection(t *testing.T) {
	_, sup := newTestBroker(t)

	firstConn, firstAck := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4, ProtocolName: "MQTT", CleanStart: true, ClientID: "dup", KeepAlive: 60,
	})
	defer firstConn.Close()
	require.Equal(t, codec.ReasonSuccess, firstAck.ReasonCode)

	readErr := make(chan error, 1)
	go func() {
		_, err := codec.Decode(firstConn, codec.V4)
		readErr <- err
	}()

	secondConn, secondAck := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V4, ProtocolName: "MQTT", CleanStart: true, ClientID: "dup", KeepAlive: 60,
	})
	defer secondConn.Close()
	require.Equal(t, codec.ReasonSuccess, secondAck.ReasonCode)

	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("prior connection was never closed on takeover")
	}
}

func TestSupervisor_SecondConnectIsProtocolError(t *testing.T) {
	_, sup := newTestBroker(t)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V5, ProtocolName: "MQTT", CleanStart: true, ClientID: "dev-1", KeepAlive: 60,
	})
	defer conn.Close()
	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)

	require.NoError(t, codec.Encode(conn, &codec.Connect{
		ProtocolLevel: codec.V5, ProtocolName: "MQTT", CleanStart: true, ClientID: "dev-1", KeepAlive: 60,
	}))

	pkt, err := codec.Decode(conn, codec.V5)
	require.NoError(t, err)
	disc, ok := pkt.(*codec.Disconnect)
	require.True(t, ok)
	require.Equal(t, codec.ReasonProtocolError, disc.ReasonCode)
}

func TestSupervisor_DupOnQoS0IsProtocolError(t *testing.T) {
	_, sup := newTestBroker(t)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V5, ProtocolName: "MQTT", CleanStart: true, ClientID: "dev-1", KeepAlive: 60,
	})
	defer conn.Close()
	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)

	require.NoError(t, codec.Encode(conn, &codec.Publish{
		ProtocolLevel: codec.V5, DUP: true, QoS: codec.QoS0, TopicName: "a/b", Payload: []byte("x"),
	}))

	pkt, err := codec.Decode(conn, codec.V5)
	require.NoError(t, err)
	disc, ok := pkt.(*codec.Disconnect)
	require.True(t, ok)
	require.Equal(t, codec.ReasonProtocolError, disc.ReasonCode)
}

func TestSupervisor_MalformedPacketSendsDisconnect(t *testing.T) {
	_, sup := newTestBroker(t)

	conn, ack := connectAndHandshake(t, sup, &codec.Connect{
		ProtocolLevel: codec.V5, ProtocolName: "MQTT", CleanStart: true, ClientID: "dev-1", KeepAlive: 60,
	})
	defer conn.Close()
	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)

	// PUBLISH fixed header with QoS bits set to the reserved value 3.
	_, err := conn.Write([]byte{0x36, 0x00})
	require.NoError(t, err)

	pkt, err := codec.Decode(conn, codec.V5)
	require.NoError(t, err)
	disc, ok := pkt.(*codec.Disconnect)
	require.True(t, ok)
	require.Equal(t, codec.ReasonMalformedPacket, disc.ReasonCode)
}

func TestSupervisor_QoS2InflightLimitDisconnects(t *testing.T) {
	_, sup := newTestBroker(t)
	cfg := DefaultConfig(1, "test")
	cfg.MaximumInflightMessages = 1

	conn, ack := connectAndHandshakeWithConfig(t, sup, &codec.Connect{
		ProtocolLevel: codec.V5, ProtocolName: "MQTT", CleanStart: true, ClientID: "qos2-1", KeepAlive: 60,
	}, cfg)
	defer conn.Close()
	require.Equal(t, codec.ReasonSuccess, ack.ReasonCode)

	require.NoError(t, codec.Encode(conn, &codec.Publish{
		ProtocolLevel: codec.V5, QoS: codec.QoS2, TopicName: "a/b", PacketID: 1, Payload: []byte("one"),
	}))
	pkt, err := codec.Decode(conn, codec.V5)
	require.NoError(t, err)
	pubrec, ok := pkt.(*codec.Ack)
	require.True(t, ok)
	require.Equal(t, codec.PUBREC, pubrec.Kind)

	require.NoError(t, codec.Encode(conn, &codec.Publish{
		ProtocolLevel: codec.V5, QoS: codec.QoS2, TopicName: "a/b", PacketID: 2, Payload: []byte("two"),
	}))

	pkt, err = codec.Decode(conn, codec.V5)
	require.NoError(t, err)
	disc, ok := pkt.(*codec.Disconnect)
	require.True(t, ok)
	require.Equal(t, codec.ReasonReceiveMaximumExceeded, disc.ReasonCode)
}
