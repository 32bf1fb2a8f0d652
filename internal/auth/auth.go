// Package auth is C1: the gate a new WebSocket connection must pass before
// it is handed to the broker. It distinguishes two credential kinds
// carried in cookies (and, for consumers, optionally a header):
//
//   - a producer presents the shared secret configured as AUTH_TOKEN via the
//     sigsvc_authtoken cookie;
//   - a consumer presents a signed browser session, either as a Flask
//     session cookie verified in-process, or as an already-verified
//     X-Auth-UID header when an edge proxy performs that verification.
package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/yagim/sigsvc/internal/authcookie"
	"github.com/yagim/sigsvc/internal/config"
)

const (
	AuthTokenCookieName = "sigsvc_authtoken"
	SessionCookieName   = "session"
	WSConnIDCookieName  = "sigsvc_wsconnid"
	HeaderXAuthUID       = "X-Auth-UID"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is what the gate establishes about a connecting peer before the
// broker ever sees it.
type Identity struct {
	// IsProducer is true when the connection authenticated as a producer
	// via the shared AUTH_TOKEN secret. A producer has no UserID.
	IsProducer bool
	// UserID is set for consumer connections only.
	UserID *int64
}

// Gate implements the ordered authentication policy described above.
type Gate struct {
	debugNoAuth      bool
	apiKeyVerifier   APIKeyVerifier
	sessionVerifier  authcookie.Verifier
	userIDSource     config.AuthUserIDSource
}

func NewGate(cfg config.Config) Gate {
	return Gate{
		debugNoAuth:    cfg.DebugNoAuth,
		apiKeyVerifier: APIKeyVerifier{Expected: cfg.AuthToken},
		sessionVerifier: authcookie.Verifier{
			SecretKey: cfg.FlaskSecretKey,
			MaxAge:    cfg.FlaskPermanentSessionLifetime,
		},
		userIDSource: cfg.AuthUserIDSource,
	}
}

// Authenticate inspects an incoming WebSocket upgrade request and returns
// the Identity it establishes, or an error if none of the supported
// credentials are present or valid.
func (g Gate) Authenticate(r *http.Request) (Identity, error) {
	if g.debugNoAuth {
		return Identity{}, nil
	}

	if c, err := r.Cookie(AuthTokenCookieName); err == nil {
		if verifyErr := g.apiKeyVerifier.Verify(c.Value); verifyErr != nil {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{IsProducer: true}, nil
	}

	if g.userIDSource == config.AuthUserIDSourceHeader {
		if v := r.Header.Get(HeaderXAuthUID); v != "" {
			uid, err := parseUserID(v)
			if err != nil {
				return Identity{}, ErrInvalidCredentials
			}
			return Identity{UserID: &uid}, nil
		}
		return Identity{}, ErrMissingCredentials
	}

	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return Identity{}, ErrMissingCredentials
	}
	uid, err := g.sessionVerifier.UserID(c.Value)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: &uid}, nil
}

// WSConnID reads the sticky-session cookie used to route a reconnecting
// peer back to the same container. Its absence is a request validation
// error, not an auth failure.
func WSConnID(r *http.Request) (string, bool) {
	c, err := r.Cookie(WSConnIDCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func parseUserID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
