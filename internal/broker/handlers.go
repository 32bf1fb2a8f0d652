package broker

import (
	"context"
	"fmt"

	"github.com/yagim/sigsvc/internal/biz"
	"github.com/yagim/sigsvc/internal/metrics"
)

func (b *Broker) handleSetPeerStatus(peer *biz.Peer, req *biz.SetPeerStatusRequest) error {
	peer.Meta = req.Meta
	resp := biz.NewPeerStatusResponse(req.Roles, peer.Meta, peer.ID)

	var newRole biz.Role
	switch {
	case hasRole(req.Roles, "listener"):
		newRole = biz.RoleConsumer
	case hasRole(req.Roles, "producer"):
		newRole = biz.RoleProducer
	default:
		return biz.RequestValidation(fmt.Sprintf("unknown peer role: %v", req.Roles))
	}
	if peer.Role != biz.RoleUnknown && peer.Role != newRole {
		return biz.RequestValidation("unknown peer role")
	}
	peer.Role = newRole

	if newRole == biz.RoleProducer {
		// A producer has joined and prepared a stream for consumerId. If the
		// consumer hasn't connected yet, it'll discover this producer via a
		// later "list" call instead.
		if consumerID, ok := stringMetaField(peer.Meta, "consumerId"); ok {
			b.registry.SetProducerForConsumer(consumerID, peer.ID)
			if consumer, ok := b.registry.Get(consumerID); ok {
				if err := consumer.Send(resp); err != nil {
					return err
				}
			}
		}
	}

	return peer.Send(resp)
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func stringMetaField(meta map[string]any, key string) (string, bool) {
	v, ok := meta[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (b *Broker) handleList(peer *biz.Peer) error {
	if producer, ok := b.registry.ProducerForConsumer(peer.ID); ok {
		return peer.Send(biz.NewListResponse([]biz.ListProducer{{ID: producer.ID, Meta: producer.Meta}}))
	}
	return peer.Send(biz.NewListResponse(nil))
}

func (b *Broker) handleCreateSession(ctx context.Context, peer *biz.Peer, req *biz.CreateSessionRequest) error {
	sessionID, err := b.sessions.CreateSession(ctx, peer, req)
	if err != nil {
		return err
	}
	b.metrics.Inc(metrics.SessionsCreatedTotal)
	return peer.Send(biz.NewCreateSessionResponse(sessionID))
}

func (b *Broker) handleStartSession(ctx context.Context, sessionID, producerPeerID string, consumer *biz.Peer) error {
	producer, ok := b.registry.Get(producerPeerID)
	if !ok {
		return biz.UnknownPeer(fmt.Sprintf("producer peer (id: %s) is unknown", producerPeerID))
	}
	if err := b.sessions.StartSession(ctx, sessionID, consumer.WSConnID, producer.ID, consumer.ID); err != nil {
		return err
	}
	b.metrics.Inc(metrics.SessionsStartedTotal)
	if err := producer.Send(&biz.StartSessionRequest{Type: biz.RequestStartSession, PeerID: consumer.ID, SessionID: sessionID}); err != nil {
		return err
	}
	return consumer.Send(biz.NewSessionStartedRequest(producer.ID, sessionID))
}

// handlePeerMsg relays an opaque WebRTC handshake message (SDP/ICE
// candidate) byte-for-byte to the other side of the session, without
// re-parsing or re-encoding it.
func (b *Broker) handlePeerMsg(ctx context.Context, peer *biz.Peer, raw []byte, env *biz.PeerEnvelope) error {
	session, err := b.sessions.GetSession(ctx, env.SessionID)
	if err != nil {
		b.logger.Error("handle peer message: get session failed", "error", err, "session_id", env.SessionID)
		return nil
	}
	if session == nil {
		b.logger.Error("handle peer message: session not found", "session_id", env.SessionID)
		return nil
	}

	otherPeerID, err := session.OtherPeerID(peer.ID)
	if err != nil {
		return err
	}
	if otherPeerID == "" {
		return nil
	}
	other, ok := b.registry.Get(otherPeerID)
	if !ok {
		return nil
	}
	b.metrics.Inc(metrics.RelayMessagesTotal)
	if err := other.SendRaw(raw); err != nil {
		b.metrics.Inc(metrics.RelayDroppedTotal)
		return err
	}
	return nil
}

func (b *Broker) handleGetSession(ctx context.Context, peer *biz.Peer, req *biz.GetSessionRequest) error {
	session, err := b.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return peer.SendRaw([]byte("{}"))
	}
	return peer.Send(biz.NewGetSessionResponse(*session))
}

func (b *Broker) handleGetSessions(ctx context.Context, peer *biz.Peer) error {
	var sessions []biz.Session
	var err error

	switch peer.Role {
	case biz.RoleConsumer:
		if peer.UserID == nil {
			return biz.RequestValidation("unknown peer role")
		}
		sessions, err = b.sessions.GetUserSessions(ctx, *peer.UserID)
	case biz.RoleProducer:
		sessions, err = b.sessions.GetProducerSessions(ctx, peer.ID)
	default:
		return biz.RequestValidation(fmt.Sprintf("unknown peer role: %s", peer.Role))
	}
	if err != nil {
		return err
	}
	return peer.Send(biz.NewGetSessionsResponse(sessions))
}

func (b *Broker) handleSubmitWebRtcStats(ctx context.Context, req *biz.SubmitWebRtcStatsRequest) error {
	return b.sessions.SubmitWebRtcStats(ctx, req.SessionID, req.Stats)
}

// handleEndSession stops and closes a session, notifying the other peer and
// acknowledging back to a consumer that called it directly. Errors
// notifying the other peer are logged, not propagated, so a broken
// connection to one side never prevents pausing/closing the session
// upstream.
func (b *Broker) handleEndSession(ctx context.Context, peer *biz.Peer, req *biz.EndSessionRequest) {
	_, direct := b.registry.Get(peer.ID)

	session, err := b.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		b.logger.Error("handle end session: get session failed", "error", err, "session_id", req.SessionID)
		return
	}
	if session == nil || session.Ending {
		if direct && peer.Role == biz.RoleConsumer {
			_ = peer.Send(biz.NewEndSessionResponse(req.SessionID))
		}
		return
	}

	b.sessions.SetSessionEnding(req.SessionID)
	if otherPeerID, err := session.OtherPeerID(peer.ID); err != nil {
		b.logger.Error("handle end session: other peer lookup failed", "error", err, "session_id", session.ID)
	} else if otherPeerID != "" {
		if other, ok := b.registry.Get(otherPeerID); ok {
			if err := other.Send(biz.NewEndSessionRequest(session.ID, req.Soft)); err != nil {
				b.logger.Error("handle end session: notify other peer failed", "error", err, "peer_id", otherPeerID)
			}
			b.registry.Remove(otherPeerID)
		}
	}

	var opErr error
	if req.Soft {
		opErr = b.sessions.PauseSession(ctx, session.ID)
		b.metrics.Inc(metrics.SessionsPausedTotal)
	} else {
		opErr = b.sessions.CloseSession(ctx, session.ID)
		b.metrics.Inc(metrics.SessionsClosedTotal)
	}
	if opErr != nil {
		b.logger.Error("handle end session: upstream call failed", "error", opErr, "session_id", session.ID)
	}

	if direct && peer.Role == biz.RoleConsumer {
		_ = peer.Send(biz.NewEndSessionResponse(session.ID))
	}
}

// handleConnectionClosed runs when a peer's WebSocket connection
// terminates, for any reason: a consumer closing its tab soft-ends (pauses)
// its sessions, while a producer disconnecting (its container exited)
// hard-ends (closes) them.
func (b *Broker) handleConnectionClosed(ctx context.Context, peer *biz.Peer) {
	if !b.registry.Remove(peer.ID) {
		// Expected when e.g. a paused container resumes under a new peer id
		// and the old connection's close event arrives afterward.
		b.logger.Warn("connection closed: unknown peer (resumed container?)", "peer_id", peer.ID)
		return
	}

	sessions, err := b.sessions.GetPeerSessions(ctx, peer)
	if err != nil {
		b.logger.Error("connection closed: get peer sessions failed", "error", err, "peer_id", peer.ID)
		return
	}
	for _, s := range sessions {
		soft := peer.Role == biz.RoleConsumer
		b.handleEndSession(ctx, peer, biz.NewEndSessionRequest(s.ID, soft))
	}
}
