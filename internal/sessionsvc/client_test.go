package sessionsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yagim/sigsvc/internal/biz"
)

func TestClient_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/create", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"sess-123"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	id, err := c.CreateSession(context.Background(), biz.CreateSessionSvcRequest{
		AppReleaseUUID: "release-1",
		UserID:         7,
		WsConn:         biz.WsConn{ID: "wsconn-1", ConsumerID: "consumer-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-123", id)
}

func TestClient_GetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"session":{"id":"sess-1","app_release_uuid":"release-1","user_id":7,"status":"active","ws_conn":{"id":"wsconn-1","consumer_id":"consumer-1"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	s, err := c.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, biz.SessionActive, s.Status)
	assert.Equal(t, int64(7), s.UserID)
}

func TestClient_GetSession_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":1404,"message":"sessionsvc: session not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.GetSession(context.Background(), "missing")
	require.Error(t, err)

	var bizErr *biz.Error
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, biz.CodeSessionSvcSessionNotFound, bizErr.Code)
}

func TestClient_PauseSession_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":1409,"message":"container unreachable"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	err := c.PauseSession(context.Background(), "sess-1")
	require.Error(t, err)

	var bizErr *biz.Error
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, biz.CodeSessionSvc, bizErr.Code)
	assert.Equal(t, "container unreachable", bizErr.Message)
}
