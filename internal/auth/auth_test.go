package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yagim/sigsvc/internal/config"
)

func newTestRequest(t *testing.T, cookies map[string]string, headers map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	for k, v := range cookies {
		r.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGate_DebugNoAuth(t *testing.T) {
	g := NewGate(config.Config{DebugNoAuth: true})
	id, err := g.Authenticate(newTestRequest(t, nil, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.IsProducer || id.UserID != nil {
		t.Fatalf("expected an empty identity, got %+v", id)
	}
}

func TestGate_ProducerToken(t *testing.T) {
	g := NewGate(config.Config{AuthToken: "secret-token"})

	t.Run("valid token", func(t *testing.T) {
		id, err := g.Authenticate(newTestRequest(t, map[string]string{AuthTokenCookieName: "secret-token"}, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !id.IsProducer {
			t.Fatalf("expected a producer identity, got %+v", id)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := g.Authenticate(newTestRequest(t, map[string]string{AuthTokenCookieName: "wrong"}, nil))
		if err != ErrInvalidCredentials {
			t.Fatalf("got error %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestGate_ConsumerHeader(t *testing.T) {
	g := NewGate(config.Config{AuthUserIDSource: config.AuthUserIDSourceHeader})

	t.Run("present", func(t *testing.T) {
		id, err := g.Authenticate(newTestRequest(t, nil, map[string]string{HeaderXAuthUID: "42"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.UserID == nil || *id.UserID != 42 {
			t.Fatalf("got %+v, want UserID=42", id)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := g.Authenticate(newTestRequest(t, nil, nil))
		if err != ErrMissingCredentials {
			t.Fatalf("got error %v, want ErrMissingCredentials", err)
		}
	})
}

func TestGate_MissingCredentials(t *testing.T) {
	g := NewGate(config.Config{AuthToken: "secret-token", FlaskSecretKey: "flask-secret", FlaskPermanentSessionLifetime: time.Hour})
	_, err := g.Authenticate(newTestRequest(t, nil, nil))
	if err != ErrMissingCredentials {
		t.Fatalf("got error %v, want ErrMissingCredentials", err)
	}
}

func TestWSConnID(t *testing.T) {
	r := newTestRequest(t, map[string]string{WSConnIDCookieName: "conn-1"}, nil)
	id, ok := WSConnID(r)
	if !ok || id != "conn-1" {
		t.Fatalf("got (%q, %v), want (conn-1, true)", id, ok)
	}

	_, ok = WSConnID(newTestRequest(t, nil, nil))
	if ok {
		t.Fatalf("expected ok=false when the cookie is absent")
	}
}
