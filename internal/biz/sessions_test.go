package biz

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

type fakeSessionSvcClient struct {
	getSessionCalls int
	session         *Session
	getSessionErr   error
	startErr        error
	pauseErr        error
	closeErr        error
}

func (f *fakeSessionSvcClient) CreateSession(ctx context.Context, req CreateSessionSvcRequest) (string, error) {
	return "sess-1", nil
}

func (f *fakeSessionSvcClient) StartSession(ctx context.Context, sessionID string, req StartSessionSvcRequest) error {
	return f.startErr
}

func (f *fakeSessionSvcClient) PauseSession(ctx context.Context, sessionID string) error {
	return f.pauseErr
}

func (f *fakeSessionSvcClient) CloseSession(ctx context.Context, sessionID string) error {
	return f.closeErr
}

func (f *fakeSessionSvcClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	f.getSessionCalls++
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	return f.session, nil
}

func (f *fakeSessionSvcClient) GetUserSessions(ctx context.Context, userID int64) ([]Session, error) {
	return nil, nil
}

func (f *fakeSessionSvcClient) GetConsumerSessions(ctx context.Context, consumerID string) ([]Session, error) {
	return nil, nil
}

func (f *fakeSessionSvcClient) GetProducerSessions(ctx context.Context, producerID string) ([]Session, error) {
	return nil, nil
}

func (f *fakeSessionSvcClient) SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionsManager_GetSessionCachesResult(t *testing.T) {
	client := &fakeSessionSvcClient{session: &Session{ID: "sess-1"}}
	m := NewSessionsManager(client, testLogger())

	s1, err := m.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := m.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected cached session on second call, got a new instance")
	}
	if client.getSessionCalls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", client.getSessionCalls)
	}
}

func TestSessionsManager_GetSessionSwallowsNotFound(t *testing.T) {
	client := &fakeSessionSvcClient{getSessionErr: SessionNotFound("")}
	m := NewSessionsManager(client, testLogger())

	s, err := m.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil session, got %+v", s)
	}
}

func TestSessionsManager_SetSessionEndingPreservedAcrossReload(t *testing.T) {
	client := &fakeSessionSvcClient{session: &Session{ID: "sess-1"}}
	m := NewSessionsManager(client, testLogger())

	if _, err := m.GetSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.SetSessionEnding("sess-1")

	// StartSession invalidates then reloads. The fake client hands back the
	// same *Session it returned before, so the Ending flag set on it by
	// SetSessionEnding is still visible on the reloaded entry.
	if err := m.StartSession(context.Background(), "sess-1", "wsconn-1", "producer-1", "consumer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := m.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Ending {
		t.Fatalf("expected Ending to survive the cache reload")
	}
}

func TestSession_OtherPeerID(t *testing.T) {
	producerID := "producer-1"
	s := &Session{WsConn: WsConn{ConsumerID: "consumer-1", ProducerID: &producerID}}

	other, err := s.OtherPeerID("consumer-1")
	if err != nil || other != "producer-1" {
		t.Fatalf("got (%q, %v), want (producer-1, nil)", other, err)
	}

	other, err = s.OtherPeerID("producer-1")
	if err != nil || other != "consumer-1" {
		t.Fatalf("got (%q, %v), want (consumer-1, nil)", other, err)
	}

	_, err = s.OtherPeerID("someone-else")
	if err == nil {
		t.Fatalf("expected an error for an unrelated peer id")
	}
}

func TestSession_OtherPeerID_NoProducerYet(t *testing.T) {
	s := &Session{WsConn: WsConn{ConsumerID: "consumer-1"}}

	other, err := s.OtherPeerID("consumer-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other != "" {
		t.Fatalf("expected empty other peer id, got %q", other)
	}
}
