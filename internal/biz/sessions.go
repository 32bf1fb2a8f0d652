package biz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionClosed  SessionStatus = "closed"
)

type Container struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Region string `json:"region"`
}

// WsConn mirrors the session service's notion of the WebSocket connection
// parameters a session is bound to, including the sticky-session id used to
// route a reconnecting peer back to the same container.
type WsConn struct {
	ID         string  `json:"id"`
	ConsumerID string  `json:"consumer_id"`
	ProducerID *string `json:"producer_id,omitempty"`
}

// Session is the broker's view of a session, cached locally with a sticky
// Ending flag layered on top of whatever the session service reports.
type Session struct {
	ID             string        `json:"id"`
	AppReleaseUUID string        `json:"app_release_uuid"`
	Container      *Container    `json:"container,omitempty"`
	Status         SessionStatus `json:"status,omitempty"`
	Updated        time.Time     `json:"updated"`
	UserID         int64         `json:"user_id"`
	WsConn         WsConn        `json:"ws_conn"`
	Ending         bool          `json:"ending"`
}

// OtherPeerID returns the id of the peer on the other side of the session
// from peerID. It returns ("", nil) when that side has no peer yet (e.g. a
// producer hasn't joined), and an UnknownPeer error when peerID belongs to
// neither side.
func (s *Session) OtherPeerID(peerID string) (string, error) {
	if peerID == s.WsConn.ConsumerID {
		if s.WsConn.ProducerID == nil {
			return "", nil
		}
		return *s.WsConn.ProducerID, nil
	}
	if s.WsConn.ProducerID != nil && peerID == *s.WsConn.ProducerID {
		return s.WsConn.ConsumerID, nil
	}
	return "", UnknownPeer(fmt.Sprintf("invalid peer_id: %s", peerID))
}

// CreateSessionSvcRequest is what SessionsManager asks the session service
// to do when a consumer runs a new app release.
type CreateSessionSvcRequest struct {
	AppReleaseUUID string
	UserID         int64
	WsConn         WsConn
	PreferredDCs   []string
}

// StartSessionSvcRequest pairs a producer with a consumer for an existing
// session.
type StartSessionSvcRequest struct {
	WsConn WsConn
}

// SessionSvcClient is the C2 contract SessionsManager talks to. It is
// implemented by internal/sessionsvc.Client; defining it here keeps the
// domain layer free of HTTP/transport concerns.
type SessionSvcClient interface {
	CreateSession(ctx context.Context, req CreateSessionSvcRequest) (sessionID string, err error)
	StartSession(ctx context.Context, sessionID string, req StartSessionSvcRequest) error
	PauseSession(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetUserSessions(ctx context.Context, userID int64) ([]Session, error)
	GetConsumerSessions(ctx context.Context, consumerID string) ([]Session, error)
	GetProducerSessions(ctx context.Context, producerID string) ([]Session, error)
	SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error
}

// SessionsManager is C3: it fronts SessionSvcClient with a local cache so
// the hot path (peer relay, getSession) doesn't round-trip to the session
// service on every message, while keeping the cache's invalidation ordering
// exactly where a status change can occur upstream.
type SessionsManager struct {
	mu     sync.Mutex
	cache  map[string]*Session
	client SessionSvcClient
	log    *slog.Logger
}

func NewSessionsManager(client SessionSvcClient, log *slog.Logger) *SessionsManager {
	return &SessionsManager{
		cache:  make(map[string]*Session),
		client: client,
		log:    log,
	}
}

func (m *SessionsManager) invalidateCache(sessionID string) {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
}

// SetSessionEnding marks a cached session as ending, so a second, racing
// endSession call (e.g. from the other peer's disconnect) sees it and backs
// off instead of double-ending.
func (m *SessionsManager) SetSessionEnding(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache[sessionID]
	if !ok {
		m.log.Error("set session ending: session not found", "session_id", sessionID)
		return
	}
	s.Ending = true
}

func (m *SessionsManager) CreateSession(ctx context.Context, peer *Peer, req *CreateSessionRequest) (string, error) {
	if peer.Role != RoleConsumer {
		return "", SigsvcOp("only consumers can run apps")
	}
	if peer.UserID == nil {
		return "", SigsvcOp("user_id is undefined")
	}
	return m.client.CreateSession(ctx, CreateSessionSvcRequest{
		AppReleaseUUID: req.AppReleaseUUID,
		UserID:         *peer.UserID,
		WsConn:         WsConn{ID: peer.WSConnID, ConsumerID: peer.ID},
		PreferredDCs:   req.PreferredDCs,
	})
}

// StartSession invalidates the cache before calling upstream, since the
// session's status is about to change, then reloads it afterward to warm
// the cache with the new state.
func (m *SessionsManager) StartSession(ctx context.Context, sessionID, wsConnID, producerID, consumerID string) error {
	m.invalidateCache(sessionID)
	pid := producerID
	if err := m.client.StartSession(ctx, sessionID, StartSessionSvcRequest{
		WsConn: WsConn{ID: wsConnID, ConsumerID: consumerID, ProducerID: &pid},
	}); err != nil {
		return err
	}
	_, err := m.GetSession(ctx, sessionID)
	return err
}

func (m *SessionsManager) PauseSession(ctx context.Context, sessionID string) error {
	if err := m.client.PauseSession(ctx, sessionID); err != nil {
		return err
	}
	m.invalidateCache(sessionID)
	return nil
}

func (m *SessionsManager) CloseSession(ctx context.Context, sessionID string) error {
	if err := m.client.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	m.invalidateCache(sessionID)
	return nil
}

// GetSession serves from cache when possible. A SessionNotFound error from
// the upstream client is swallowed here and reported as (nil, nil): callers
// treat a missing session as "nothing to do", not a failure.
func (m *SessionsManager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.cache[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.client.GetSession(ctx, sessionID)
	if err != nil {
		var bizErr *Error
		if errors.As(err, &bizErr) && bizErr.Code == CodeSessionSvcSessionNotFound {
			m.log.Warn("session wasn't found", "session_id", sessionID)
			return nil, nil
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.cache[sessionID]; ok {
		s.Ending = old.Ending
	}
	m.cache[sessionID] = s
	return s, nil
}

func (m *SessionsManager) GetUserSessions(ctx context.Context, userID int64) ([]Session, error) {
	return m.client.GetUserSessions(ctx, userID)
}

func (m *SessionsManager) GetConsumerSessions(ctx context.Context, consumerID string) ([]Session, error) {
	return m.client.GetConsumerSessions(ctx, consumerID)
}

func (m *SessionsManager) GetProducerSessions(ctx context.Context, producerID string) ([]Session, error) {
	return m.client.GetProducerSessions(ctx, producerID)
}

func (m *SessionsManager) GetPeerSessions(ctx context.Context, peer *Peer) ([]Session, error) {
	switch peer.Role {
	case RoleConsumer:
		return m.GetConsumerSessions(ctx, peer.ID)
	case RoleProducer:
		return m.GetProducerSessions(ctx, peer.ID)
	default:
		return nil, UnknownPeer(fmt.Sprintf("unknown peer role: %s", peer.Role))
	}
}

func (m *SessionsManager) SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error {
	return m.client.SubmitWebRtcStats(ctx, sessionID, stats)
}
