package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusmq/broker/acl"
	"github.com/nimbusmq/broker/auth"
	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/dispatcher"
	"github.com/nimbusmq/broker/message"
	"github.com/nimbusmq/broker/metrics"
	"github.com/nimbusmq/broker/session"
)

// Supervisor runs the CONNECT handshake and packet read loop for every
// connection one listener accepts, and implements dispatcher.ListenerLink
// so fan-out can reach any connection it currently owns. A broker with
// several endpoints builds one Supervisor per listener, all sharing the
// same Dispatcher, Authenticator and Authorizer.
type Supervisor struct {
	dispatcher *dispatcher.Dispatcher
	auth       *auth.Authenticator
	authz      acl.Authorizer
	metrics    *metrics.Collector
	log        *slog.Logger

	mu          sync.RWMutex
	bySessionID map[uint64]*clientConn
	byClientID  map[string]*clientConn
}

// SupervisorConfig wires a Supervisor's dependencies.
type SupervisorConfig struct {
	Dispatcher    *dispatcher.Dispatcher
	Authenticator *auth.Authenticator
	Authorizer    acl.Authorizer
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// NewSupervisor builds a Supervisor. Authorizer defaults to acl.AllowAll
// when nil.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	authz := cfg.Authorizer
	if authz == nil {
		authz = acl.NewAllowAll()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		dispatcher:  cfg.Dispatcher,
		auth:        cfg.Authenticator,
		authz:       authz,
		metrics:     cfg.Metrics,
		log:         logger,
		bySessionID: make(map[uint64]*clientConn),
		byClientID:  make(map[string]*clientConn),
	}
}

// countingConn tracks bytes read off the wire so the read loop can report
// accurate per-packet sizes to metrics without codec.Decode needing to
// know about accounting.
type countingConn struct {
	net.Conn
	read atomic.Int64
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.read.Add(int64(n))
	return n, err
}

// clientConn pairs a live net.Conn with the session it was admitted
// under. writeMu serializes the read loop's own replies (CONNACK, SUBACK,
// PUBACK, ...) against concurrent Deliver calls from fan-out.
type clientConn struct {
	conn    *countingConn
	sess    *session.Session
	cfg     *Config
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *clientConn) writePacket(p codec.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return codec.Encode(c.conn, p)
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Deliver implements dispatcher.ListenerLink.
func (s *Supervisor) Deliver(ctx context.Context, sessionID uint64, msg *message.Message) error {
	s.mu.RLock()
	cc, ok := s.bySessionID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return session.ErrSessionNotFound
	}

	qos := msg.QoS
	if qos != codec.QoS0 {
		packetID := cc.sess.NextPacketID()
		msg.PacketID = packetID
		cc.sess.AddPendingPublish(&session.PendingMessage{
			PacketID:  packetID,
			Message:   msg,
			Timestamp: time.Now(),
		})
	}

	return cc.writePacket(msg.ToPublish(cc.sess.ProtocolLevel))
}

// handleConn runs the CONNECT handshake for conn, then its packet read
// loop, tearing the session down on exit either way.
func (s *Supervisor) handleConn(ctx context.Context, rawConn net.Conn, cfg *Config) {
	conn := &countingConn{Conn: rawConn}

	if cfg.ConnectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ConnectTimeout))
	}

	pkt, err := codec.Decode(conn, codec.V4)
	if err != nil {
		s.log.Debug("listener: handshake decode failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}
	connectPkt, ok := pkt.(*codec.Connect)
	if !ok {
		s.log.Debug("listener: first packet was not CONNECT", "remote", conn.RemoteAddr(), "type", pkt.Type())
		_ = conn.Close()
		return
	}

	cc, ok := s.admit(ctx, conn, cfg, connectPkt)
	if !ok {
		_ = conn.Close()
		return
	}

	graceful := s.readLoop(ctx, cc)
	s.teardown(ctx, cc, graceful)
}

// admit runs the CONNECT handshake proper: authentication, client id
// resolution, takeover of any prior session holding the same client id,
// session creation and the CONNACK reply. It returns false (having
// already written a failing CONNACK or silently closed) if the
// connection should not proceed to the read loop.
func (s *Supervisor) admit(ctx context.Context, conn *countingConn, cfg *Config, connect *codec.Connect) (*clientConn, bool) {
	level := connect.ProtocolLevel

	if !s.auth.Authenticate(connect.Username, connect.Password) {
		reason := codec.ReasonBadUserNameOrPassword
		if level.IsV5() {
			reason = codec.ReasonNotAuthorized
		}
		s.sendConnack(conn, level, false, reason)
		return nil, false
	}

	clientID := connect.ClientID
	if clientID == "" {
		if !cfg.AllowEmptyClientID {
			s.sendConnack(conn, level, false, codec.ReasonClientIdentifierNotValid)
			return nil, false
		}
		generated, err := s.dispatcher.Sessions().GenerateClientID(ctx)
		if err != nil {
			s.sendConnack(conn, level, false, codec.ReasonUnspecifiedError)
			return nil, false
		}
		clientID = generated
	}

	// MQTT-3.1.4-2: a CONNECT claiming a client id already connected
	// takes over that session; the prior connection is disconnected
	// first so it never races the new one for delivery.
	s.mu.Lock()
	if prior, exists := s.byClientID[clientID]; exists {
		s.mu.Unlock()
		s.disconnectTakenOver(prior)
		s.mu.Lock()
	}
	s.mu.Unlock()

	if err := s.dispatcher.Sessions().TakeoverSession(ctx, clientID); err != nil {
		s.log.Warn("listener: takeover failed", "client_id", clientID, "error", err)
	}

	expiryInterval := sessionExpiryFromConnect(connect)
	sess, sessionPresent, err := s.dispatcher.Sessions().CreateSession(ctx, clientID, connect.CleanStart, expiryInterval, level)
	if err != nil {
		s.log.Warn("listener: create session failed", "client_id", clientID, "error", err)
		s.sendConnack(conn, level, false, codec.ReasonServerUnavailable)
		return nil, false
	}
	sess.Gid.ListenerID = cfg.ListenerID

	if connect.WillFlag {
		will := &session.WillMessage{
			Topic:      connect.WillTopic,
			Payload:    connect.WillPayload,
			QoS:        connect.WillQoS,
			Retain:     connect.WillRetain,
			Properties: connect.WillProperties,
		}
		var delay uint32
		if will.Properties != nil {
			if prop, ok := will.Properties.Get(codec.PropWillDelayInterval); ok {
				delay, _ = prop.Value.(uint32)
			}
		}
		sess.SetWillMessage(will, delay)
	}

	cc := &clientConn{conn: conn, sess: sess, cfg: cfg, closed: make(chan struct{})}

	s.mu.Lock()
	s.bySessionID[sess.Gid.SessionID] = cc
	s.byClientID[clientID] = cc
	s.mu.Unlock()

	if cfg.ConnectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}
	s.applyKeepAlive(cc, connect.KeepAlive)

	s.sendConnack(conn, level, sessionPresent, codec.ReasonSuccess)
	return cc, true
}

// sessionExpiryFromConnect reads the v5.0 Session-Expiry-Interval
// property. v3.1.1 has no such property; its persistent (non-clean)
// sessions never expire on their own, which Session.IsExpired already
// gives an ExpiryInterval of zero combined with CleanStart false.
func sessionExpiryFromConnect(connect *codec.Connect) uint32 {
	if !connect.ProtocolLevel.IsV5() || connect.Properties == nil {
		return 0
	}
	if prop, ok := connect.Properties.Get(codec.PropSessionExpiryInterval); ok {
		if v, ok := prop.Value.(uint32); ok {
			return v
		}
	}
	return 0
}

func (s *Supervisor) applyKeepAlive(cc *clientConn, keepAlive uint16) {
	interval := time.Duration(keepAlive) * time.Second
	if keepAlive == 0 {
		interval = cc.cfg.DefaultKeepAlive
	}
	if interval <= 0 {
		return
	}
	// MQTT-3.1.2-24: the server may disconnect a client that exceeds 1.5x
	// its keep-alive without a control packet.
	_ = cc.conn.SetReadDeadline(time.Now().Add(interval + interval/2))
}

func (s *Supervisor) sendConnack(conn *countingConn, level codec.ProtocolLevel, present bool, reason codec.ReasonCode) {
	ack := &codec.Connack{ProtocolLevel: level, SessionPresent: present, ReasonCode: reason}
	if err := codec.Encode(conn, ack); err != nil {
		s.log.Debug("listener: connack write failed", "error", err)
	}
}

func (s *Supervisor) disconnectTakenOver(cc *clientConn) {
	if cc.sess.ProtocolLevel.IsV5() {
		_ = cc.writePacket(&codec.Disconnect{ProtocolLevel: codec.V5, ReasonCode: codec.ReasonSessionTakenOver})
	}
	cc.close()
}

// disconnectProtocolError closes cc after a client-side protocol
// violation that isn't a decode failure (e.g. a second CONNECT). v5
// clients get a DISCONNECT naming ReasonProtocolError; v3 has no such
// packet, so the connection is simply dropped.
func (s *Supervisor) disconnectProtocolError(cc *clientConn) {
	if cc.sess.ProtocolLevel.IsV5() {
		_ = cc.writePacket(&codec.Disconnect{ProtocolLevel: codec.V5, ReasonCode: codec.ReasonProtocolError})
	}
	cc.close()
}

// readLoop decodes and dispatches packets until the connection closes or
// a protocol error occurs. It returns true only when the client sent a
// DISCONNECT with a reason other than 0x04 (disconnect-with-will), the
// one graceful exit that MQTT-3.1.2-8 requires to suppress the will
// regardless of its delay.
func (s *Supervisor) readLoop(ctx context.Context, cc *clientConn) bool {
	for {
		select {
		case <-cc.closed:
			return false
		default:
		}

		before := cc.conn.read.Load()
		pkt, err := codec.Decode(cc.conn, cc.sess.ProtocolLevel)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("listener: decode error", "client_id", cc.sess.ClientID, "error", err)
				if cc.sess.ProtocolLevel.IsV5() {
					_ = cc.writePacket(&codec.Disconnect{ProtocolLevel: codec.V5, ReasonCode: codec.ReasonCodeFor(err)})
				}
			}
			return false
		}
		s.applyKeepAlive(cc, 0)
		if s.metrics != nil {
			s.metrics.ObservePacketIn(int(cc.conn.read.Load() - before))
		}

		switch p := pkt.(type) {
		case *codec.Connect:
			// A second CONNECT on an already-admitted session is a
			// protocol violation, not a reconnection attempt.
			s.log.Debug("listener: second CONNECT on connected session", "client_id", cc.sess.ClientID)
			s.disconnectProtocolError(cc)
			return false
		case *codec.Publish:
			if !s.handlePublish(ctx, cc, p) {
				return false
			}
		case *codec.Ack:
			s.handleAck(ctx, cc, p)
		case *codec.Subscribe:
			s.handleSubscribe(ctx, cc, p)
		case *codec.Unsubscribe:
			s.handleUnsubscribe(cc, p)
		case *codec.Pingreq:
			_ = cc.writePacket(&codec.Pingresp{ProtocolLevel: cc.sess.ProtocolLevel})
		case *codec.Disconnect:
			if p.ReasonCode == codec.ReasonDisconnectWithWillMessage {
				return false
			}
			return true
		case *codec.Auth:
			// Enhanced authentication (AUTH re-challenge) is not handled;
			// only CONNECT-time credential checks are implemented.
		default:
			s.log.Debug("listener: unexpected packet", "client_id", cc.sess.ClientID, "type", pkt.Type())
		}
	}
}

// handlePublish processes one inbound PUBLISH and reports whether the
// connection should stay open. It returns false when a QoS 0 PUBLISH
// carries the DUP flag, or when the QoS 2 inflight set has grown past
// the listener's configured maximum, per MQTT-3.1.2-24's
// receive-maximum enforcement.
func (s *Supervisor) handlePublish(ctx context.Context, cc *clientConn, p *codec.Publish) bool {
	if p.QoS == codec.QoS0 && p.DUP {
		// MQTT-3.3.1-2: DUP must be 0 for QoS 0; a client that sets it
		// anyway is in violation, not merely resending.
		s.log.Debug("listener: DUP set on QoS 0 PUBLISH", "client_id", cc.sess.ClientID)
		s.disconnectProtocolError(cc)
		return false
	}
	if err := dispatcher.ValidateTopic(p.TopicName); err != nil {
		return true
	}
	if !s.authz.Authorize(cc.sess.Gid, cc.sess.ClientID, p.TopicName, acl.AccessPublish) {
		if p.QoS != codec.QoS0 {
			s.ackPublish(cc, p, codec.ReasonNotAuthorized)
		}
		return true
	}

	switch p.QoS {
	case codec.QoS0:
		msg := message.New(p, cc.sess.ClientID)
		_ = s.dispatcher.Publish(ctx, msg, cc.sess.Gid)
	case codec.QoS1:
		msg := message.New(p, cc.sess.ClientID)
		_ = s.dispatcher.Publish(ctx, msg, cc.sess.Gid)
		s.ackPublish(cc, p, codec.ReasonSuccess)
	case codec.QoS2:
		if cc.sess.HasPendingPubrel(p.PacketID) {
			// Retransmit: already recorded, just re-ack.
		} else {
			limit := cc.cfg.MaximumInflightMessages
			if limit > 0 && cc.sess.PendingPubrelCount() >= limit {
				s.rejectReceiveMaximum(cc)
				return false
			}
			msg := message.New(p, cc.sess.ClientID)
			_ = s.dispatcher.Publish(ctx, msg, cc.sess.Gid)
			cc.sess.AddPendingPubrel(p.PacketID)
		}
		_ = cc.writePacket(&codec.Ack{Kind: codec.PUBREC, ProtocolLevel: cc.sess.ProtocolLevel, PacketID: p.PacketID, ReasonCode: codec.ReasonSuccess})
	}
	return true
}

// rejectReceiveMaximum closes a connection that exceeded the QoS 2
// inflight limit. v5 clients get a DISCONNECT naming the reason; v3
// has no such packet, so the connection is simply dropped.
func (s *Supervisor) rejectReceiveMaximum(cc *clientConn) {
	if cc.sess.ProtocolLevel.IsV5() {
		_ = cc.writePacket(&codec.Disconnect{ProtocolLevel: cc.sess.ProtocolLevel, ReasonCode: codec.ReasonReceiveMaximumExceeded})
	}
}

func (s *Supervisor) ackPublish(cc *clientConn, p *codec.Publish, reason codec.ReasonCode) {
	_ = cc.writePacket(&codec.Ack{Kind: codec.PUBACK, ProtocolLevel: cc.sess.ProtocolLevel, PacketID: p.PacketID, ReasonCode: reason})
}

// handleAck processes PUBACK/PUBREC/PUBREL/PUBCOMP, each sharing codec.Ack's
// shape and distinguished by Kind.
func (s *Supervisor) handleAck(ctx context.Context, cc *clientConn, a *codec.Ack) {
	switch a.Kind {
	case codec.PUBACK:
		cc.sess.RemovePendingPublish(a.PacketID)
	case codec.PUBREC:
		cc.sess.RemovePendingPublish(a.PacketID)
		cc.sess.AddPendingPubcomp(a.PacketID)
		_ = cc.writePacket(&codec.Ack{Kind: codec.PUBREL, ProtocolLevel: cc.sess.ProtocolLevel, PacketID: a.PacketID, ReasonCode: codec.ReasonSuccess})
	case codec.PUBREL:
		cc.sess.RemovePendingPubrel(a.PacketID)
		_ = cc.writePacket(&codec.Ack{Kind: codec.PUBCOMP, ProtocolLevel: cc.sess.ProtocolLevel, PacketID: a.PacketID, ReasonCode: codec.ReasonSuccess})
	case codec.PUBCOMP:
		cc.sess.RemovePendingPubcomp(a.PacketID)
	}
}

func (s *Supervisor) handleSubscribe(ctx context.Context, cc *clientConn, p *codec.Subscribe) {
	reasons := make([]codec.ReasonCode, len(p.Subscriptions))
	for i, req := range p.Subscriptions {
		if err := dispatcher.ValidateTopicFilter(req.TopicFilter); err != nil {
			reasons[i] = codec.ReasonTopicFilterInvalid
			continue
		}
		if !s.authz.Authorize(cc.sess.Gid, cc.sess.ClientID, req.TopicFilter, acl.AccessSubscribe) {
			reasons[i] = codec.ReasonNotAuthorized
			continue
		}

		sub := &session.Subscription{
			TopicFilter:            req.TopicFilter,
			QoS:                    req.QoS,
			NoLocal:                req.NoLocal,
			RetainAsPublished:      req.RetainAsPublished,
			RetainHandling:         req.RetainHandling,
			SubscriptionIdentifier: req.SubscriptionIdentifier,
			SubscribedAt:           time.Now(),
		}
		cc.sess.AddSubscription(sub)

		retained, err := s.dispatcher.Subscribe(context.Background(), cc.sess.Gid, sub)
		if err != nil {
			cc.sess.RemoveSubscription(req.TopicFilter)
			reasons[i] = codec.ReasonUnspecifiedError
			continue
		}
		reasons[i] = grantedReason(req.QoS)

		if req.RetainHandling == 2 {
			continue // retain handling 2: do not send retained messages at subscribe time
		}
		for _, m := range retained {
			s.deliverDirect(cc, m)
		}
	}

	_ = cc.writePacket(&codec.Suback{ProtocolLevel: cc.sess.ProtocolLevel, PacketID: p.PacketID, ReasonCodes: reasons})
}

func grantedReason(qos codec.QoS) codec.ReasonCode {
	switch qos {
	case codec.QoS1:
		return codec.ReasonGrantedQoS1
	case codec.QoS2:
		return codec.ReasonGrantedQoS2
	default:
		return codec.ReasonGrantedQoS0
	}
}

// deliverDirect writes a retained-replay message straight to cc without
// going through the dispatcher, since it already matched this session's
// new subscription and needs no further fan-out.
func (s *Supervisor) deliverDirect(cc *clientConn, msg *message.Message) {
	if msg.QoS != codec.QoS0 {
		msg.PacketID = cc.sess.NextPacketID()
		cc.sess.AddPendingPublish(&session.PendingMessage{PacketID: msg.PacketID, Message: msg, Timestamp: time.Now()})
	}
	_ = cc.writePacket(msg.ToPublish(cc.sess.ProtocolLevel))
}

func (s *Supervisor) handleUnsubscribe(cc *clientConn, p *codec.Unsubscribe) {
	reasons := make([]codec.ReasonCode, len(p.TopicFilters))
	for i, filter := range p.TopicFilters {
		cc.sess.RemoveSubscription(filter)
		if s.dispatcher.Unsubscribe(cc.sess.Gid, filter) {
			reasons[i] = codec.ReasonSuccess
		} else {
			reasons[i] = codec.ReasonNoSubscriptionExisted
		}
	}
	_ = cc.writePacket(&codec.Unsuback{ProtocolLevel: cc.sess.ProtocolLevel, PacketID: p.PacketID, ReasonCodes: reasons})
}

// teardown unregisters cc and disconnects its session. graceful is false
// only when handleConn calls it after an abnormal read-loop
// exit (decode error, EOF without DISCONNECT, keep-alive timeout); a
// clean DISCONNECT path also routes here so cleanup only happens once.
func (s *Supervisor) teardown(ctx context.Context, cc *clientConn, graceful bool) {
	s.mu.Lock()
	if s.bySessionID[cc.sess.Gid.SessionID] == cc {
		delete(s.bySessionID, cc.sess.Gid.SessionID)
	}
	if s.byClientID[cc.sess.ClientID] == cc {
		delete(s.byClientID, cc.sess.ClientID)
	}
	s.mu.Unlock()

	s.dispatcher.UnsubscribeAll(cc.sess.Gid)

	// sendWill tells DisconnectSession whether to consider the will at
	// all; DisconnectSession itself only fires it immediately when the
	// will carries no delay, leaving a delayed will to the session
	// manager's expiry checker (session.Session.ShouldPublishWill).
	if err := s.dispatcher.Sessions().DisconnectSession(ctx, cc.sess.ClientID, !graceful); err != nil {
		s.log.Debug("listener: disconnect session failed", "client_id", cc.sess.ClientID, "error", err)
	}

	cc.close()
}
