package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/yagim/sigsvc/internal/biz"
	"github.com/yagim/sigsvc/internal/metrics"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

type fakeClient struct {
	sessions map[string]*biz.Session
	started  []string
	paused   []string
	closed   []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{sessions: make(map[string]*biz.Session)}
}

func (f *fakeClient) CreateSession(ctx context.Context, req biz.CreateSessionSvcRequest) (string, error) {
	return "sess-1", nil
}

func (f *fakeClient) StartSession(ctx context.Context, sessionID string, req biz.StartSessionSvcRequest) error {
	f.started = append(f.started, sessionID)
	if s, ok := f.sessions[sessionID]; ok {
		s.WsConn.ProducerID = req.WsConn.ProducerID
	}
	return nil
}

func (f *fakeClient) PauseSession(ctx context.Context, sessionID string) error {
	f.paused = append(f.paused, sessionID)
	return nil
}

func (f *fakeClient) CloseSession(ctx context.Context, sessionID string) error {
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeClient) GetSession(ctx context.Context, sessionID string) (*biz.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, biz.SessionNotFound("")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeClient) GetUserSessions(ctx context.Context, userID int64) ([]biz.Session, error) {
	return nil, nil
}

func (f *fakeClient) GetConsumerSessions(ctx context.Context, consumerID string) ([]biz.Session, error) {
	return nil, nil
}

func (f *fakeClient) GetProducerSessions(ctx context.Context, producerID string) ([]biz.Session, error) {
	return nil, nil
}

func (f *fakeClient) SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error {
	return nil
}

func newTestBroker(client biz.SessionSvcClient) *Broker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{MaxMessagesPerSecond: 100}, biz.NewSessionsManager(client, logger), metrics.New(), logger)
}

func TestHandleSetPeerStatus_ProducerNotifiesWaitingConsumer(t *testing.T) {
	b := newTestBroker(newFakeClient())

	consumerSender := &fakeSender{}
	consumer := &biz.Peer{ID: "consumer-1", Role: biz.RoleConsumer, Sender: consumerSender}
	b.registry.Add(consumer)

	producerSender := &fakeSender{}
	producer := &biz.Peer{ID: "producer-1", Sender: producerSender}
	b.registry.Add(producer)

	err := b.handleSetPeerStatus(producer, &biz.SetPeerStatusRequest{
		Roles: []string{"producer"},
		Meta:  map[string]any{"consumerId": "consumer-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer.Role != biz.RoleProducer {
		t.Fatalf("expected producer role to be set")
	}
	if len(consumerSender.sent) != 1 {
		t.Fatalf("expected the waiting consumer to be notified, got %d messages", len(consumerSender.sent))
	}
	if len(producerSender.sent) != 1 {
		t.Fatalf("expected the producer to receive its own ack, got %d messages", len(producerSender.sent))
	}
}

func TestHandleSetPeerStatus_RejectsRoleChange(t *testing.T) {
	b := newTestBroker(newFakeClient())

	sender := &fakeSender{}
	peer := &biz.Peer{ID: "peer-1", Role: biz.RoleConsumer, Sender: sender}
	b.registry.Add(peer)

	err := b.handleSetPeerStatus(peer, &biz.SetPeerStatusRequest{Roles: []string{"producer"}})
	var bizErr *biz.Error
	if !errors.As(err, &bizErr) || bizErr.Code != biz.CodeRequestValidation {
		t.Fatalf("got error %v, want a RequestValidation error", err)
	}
	if peer.Role != biz.RoleConsumer {
		t.Fatalf("expected peer role to remain unchanged, got %v", peer.Role)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no response sent for a rejected role change")
	}
}

func TestHandleList_NoProducerYet(t *testing.T) {
	b := newTestBroker(newFakeClient())
	sender := &fakeSender{}
	consumer := &biz.Peer{ID: "consumer-1", Sender: sender}

	if err := b.handleList(consumer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one response")
	}
}

func TestHandleEndSession_NotifiesOtherPeerAndCloses(t *testing.T) {
	client := newFakeClient()
	producerID := "producer-1"
	client.sessions["sess-1"] = &biz.Session{
		ID:     "sess-1",
		WsConn: biz.WsConn{ConsumerID: "consumer-1", ProducerID: &producerID},
	}
	b := newTestBroker(client)

	consumerSender := &fakeSender{}
	consumer := &biz.Peer{ID: "consumer-1", Role: biz.RoleConsumer, Sender: consumerSender}
	b.registry.Add(consumer)

	producerSender := &fakeSender{}
	producer := &biz.Peer{ID: "producer-1", Sender: producerSender}
	b.registry.Add(producer)

	b.handleEndSession(context.Background(), consumer, biz.NewEndSessionRequest("sess-1", false))

	if len(producerSender.sent) != 1 {
		t.Fatalf("expected the producer to be notified, got %d messages", len(producerSender.sent))
	}
	if _, stillRegistered := b.registry.Get("producer-1"); stillRegistered {
		t.Fatalf("expected the producer to be evicted from the registry")
	}
	if len(client.closed) != 1 {
		t.Fatalf("expected a hard close upstream, got %d closes", len(client.closed))
	}
	if len(consumerSender.sent) != 1 {
		t.Fatalf("expected the direct caller to receive an ack")
	}
}

func TestHandleEndSession_AlreadyEndingSendsAckOnly(t *testing.T) {
	client := newFakeClient()
	client.sessions["sess-1"] = &biz.Session{ID: "sess-1", Ending: true}
	b := newTestBroker(client)

	sender := &fakeSender{}
	consumer := &biz.Peer{ID: "consumer-1", Role: biz.RoleConsumer, Sender: sender}
	b.registry.Add(consumer)

	b.handleEndSession(context.Background(), consumer, biz.NewEndSessionRequest("sess-1", true))

	if len(client.paused) != 0 || len(client.closed) != 0 {
		t.Fatalf("expected no upstream pause/close for an already-ending session")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one ack")
	}
}
