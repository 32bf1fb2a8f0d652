// Package broker is C5/C6: it upgrades authenticated connections to
// WebSocket, runs each peer's per-connection read loop, dispatches signaling
// messages to the right handler, and cleans up sessions when peers
// disconnect.
package broker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yagim/sigsvc/internal/auth"
	"github.com/yagim/sigsvc/internal/biz"
	"github.com/yagim/sigsvc/internal/metrics"
	"github.com/yagim/sigsvc/internal/origin"
	"github.com/yagim/sigsvc/internal/ratelimit"
)

// Config bounds a single connection's resource usage.
type Config struct {
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	AllowedOrigins       []string
}

// Broker holds the shared, in-memory signaling state for every connected
// peer and wires it to the WebSocket transport.
type Broker struct {
	cfg      Config
	registry *biz.Registry
	sessions *biz.SessionsManager
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg Config, sessions *biz.SessionsManager, m *metrics.Metrics, logger *slog.Logger) *Broker {
	b := &Broker{
		cfg:      cfg,
		registry: biz.NewRegistry(),
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
	b.upgrader = websocket.Upgrader{
		CheckOrigin: b.checkOrigin,
	}
	return b
}

func (b *Broker) checkOrigin(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		// Non-browser clients (streaming containers) don't send Origin.
		return true
	}
	normalized, host, ok := origin.NormalizeHeader(raw)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, host, r.Host, b.cfg.AllowedOrigins)
}

// conn adapts a gorilla/websocket connection to biz.Sender and owns the
// read loop for one peer.
type conn struct {
	ws      *websocket.Conn
	peer    *biz.Peer
	broker  *Broker
	logger  *slog.Logger
	limiter *ratelimit.TokenBucket
}

func (c *conn) Send(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// HandleWS upgrades the request to a WebSocket connection, registers the
// peer, and runs its read loop until the connection closes. It blocks until
// the connection terminates, matching the per-connection handler pattern
// gorilla/websocket expects.
func (b *Broker) HandleWS(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	wsConnID, ok := auth.WSConnID(r)
	if !ok {
		http.Error(w, "missing "+auth.WSConnIDCookieName+" cookie", http.StatusBadRequest)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	peer := &biz.Peer{
		ID:       newPeerID(),
		WSConnID: wsConnID,
		UserID:   identity.UserID,
	}
	c := &conn{
		ws:      ws,
		peer:    peer,
		broker:  b,
		logger:  b.logger.With("peer_id", peer.ID, "remote_addr", r.RemoteAddr),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(b.cfg.MaxMessagesPerSecond), int64(b.cfg.MaxMessagesPerSecond)),
	}
	peer.Sender = c

	if b.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(b.cfg.MaxMessageBytes)
	}

	b.registry.Add(peer)
	b.metrics.Inc(metrics.ConnectionsTotal)
	c.logger.Info("peer connected")

	defer func() {
		b.metrics.Inc(metrics.DisconnectsTotal)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.handleConnectionClosed(ctx, peer)
		_ = ws.Close()
	}()

	if err := peer.Send(biz.NewWelcomeResponse(peer.ID)); err != nil {
		c.logger.Warn("failed to send welcome message", "error", err)
		return
	}

	c.readLoop()
}

func (c *conn) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection closed unexpectedly", "error", err)
			}
			return
		}

		if !c.limiter.Allow(1) {
			c.broker.metrics.Inc(metrics.DropReasonRateLimited)
			c.logger.Warn("dropping message: rate limited")
			continue
		}
		c.broker.metrics.Inc(metrics.MessagesInTotal)

		if err := c.broker.dispatch(ctx, c.peer, data); err != nil {
			c.handleDispatchError(err)
		}
	}
}

func (c *conn) handleDispatchError(err error) {
	bizErr, ok := err.(*biz.Error)
	if !ok {
		c.logger.Error("unexpected error in message dispatch", "error", err)
		return
	}
	c.broker.metrics.Inc(metrics.DispatcherErrorsTotal)
	c.logger.Error("biz error in message dispatch", "code", bizErr.Code, "message", bizErr.Message)
	if sendErr := c.peer.Send(biz.NewErrorResponse(bizErr)); sendErr != nil {
		c.logger.Warn("failed to send error response", "error", sendErr)
	}
}
