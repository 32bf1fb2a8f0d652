// Package authcookie verifies Flask/itsdangerous-signed session cookies so
// this service can recognize a consumer's browser session without running a
// second web framework alongside it.
//
// Flask signs its session cookie with itsdangerous' URLSafeTimedSerializer
// using key_derivation="hmac" and a SHA-1 digest, salted with the literal
// string "cookie-session" (see
// https://github.com/pallets/flask/blob/main/src/flask/sessions.py). No Go
// library implements this exact wire format, so it is reproduced here by
// hand from the itsdangerous/Flask source rather than imported.
package authcookie

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	signSalt          = "cookie-session"
	// itsdangerous timestamps are seconds since this epoch, not Unix epoch.
	itsdangerousEpoch = 1293840000 // 2011-01-01T00:00:00Z
	// A payload segment starting with this marker was zlib-compressed
	// before being base64url-encoded.
	compressedMarker = '.'
)

var (
	// ErrBadSignature is returned when the cookie's HMAC does not match,
	// or the cookie is malformed in a way that prevents verifying it.
	ErrBadSignature = errors.New("authcookie: bad signature")
	// ErrExpired is returned when the cookie's embedded timestamp is older
	// than the configured max age.
	ErrExpired = errors.New("authcookie: expired")
)

// Verifier verifies Flask session cookies signed with secretKey and
// extracts the authenticated user id Flask-Login stores as "_user_id".
type Verifier struct {
	SecretKey string
	MaxAge    time.Duration
}

// UserID verifies cookie and returns the integer user id stored under the
// "_user_id" session key, as written by flask_login.login_user().
func (v Verifier) UserID(cookie string) (int64, error) {
	payload, err := v.verify(cookie)
	if err != nil {
		return 0, err
	}

	var session map[string]any
	if err := json.Unmarshal(payload, &session); err != nil {
		return 0, fmt.Errorf("%w: malformed session payload: %v", ErrBadSignature, err)
	}
	raw, ok := session["_user_id"]
	if !ok {
		return 0, fmt.Errorf("%w: missing _user_id", ErrBadSignature)
	}
	return parseUserID(raw)
}

func parseUserID(raw any) (int64, error) {
	switch v := raw.(type) {
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid _user_id %q", ErrBadSignature, v)
		}
		return id, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: unsupported _user_id type %T", ErrBadSignature, raw)
	}
}

// verify reproduces itsdangerous.URLSafeTimedSerializer.loads with
// key_derivation="hmac" and digest_method=sha1, returning the decompressed
// JSON payload bytes.
func (v Verifier) verify(cookie string) ([]byte, error) {
	compressed := strings.HasPrefix(cookie, string(compressedMarker))
	parts := strings.Split(strings.TrimPrefix(cookie, string(compressedMarker)), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 dot-separated segments, got %d", ErrBadSignature, len(parts))
	}
	payloadSeg, timestampSeg, sigSeg := parts[0], parts[1], parts[2]

	// The signed value includes the compression marker, if any.
	signed := cookie[:len(cookie)-len(sigSeg)-1]
	if err := v.checkSignature(signed, sigSeg); err != nil {
		return nil, err
	}

	ts, err := decodeTimestamp(timestampSeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if v.MaxAge > 0 {
		age := time.Since(ts)
		if age > v.MaxAge {
			return nil, ErrExpired
		}
	}

	payload, err := base64URLDecode(payloadSeg)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding: %v", ErrBadSignature, err)
	}
	return decompressPayload(payload, compressed)
}

func (v Verifier) checkSignature(signed, sigSeg string) error {
	sig, err := base64URLDecode(sigSeg)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding: %v", ErrBadSignature, err)
	}
	want := v.sign(signed)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return ErrBadSignature
	}
	return nil
}

// sign derives a per-salt key via HMAC-SHA1(secretKey, salt) and signs data
// with it, matching itsdangerous' HMACAlgorithm + "hmac" key derivation.
func (v Verifier) sign(data string) []byte {
	keyMAC := hmac.New(sha1.New, []byte(v.SecretKey))
	keyMAC.Write([]byte(signSalt))
	derivedKey := keyMAC.Sum(nil)

	mac := hmac.New(sha1.New, derivedKey)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// decodeTimestamp decodes itsdangerous' base64-of-big-endian-integer
// timestamp format, offset from the itsdangerous epoch rather than Unix
// epoch.
func decodeTimestamp(seg string) (time.Time, error) {
	raw, err := base64URLDecode(seg)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp encoding: %w", err)
	}
	buf := make([]byte, 8)
	copy(buf[8-len(raw):], raw)
	secondsSinceEpoch := binary.BigEndian.Uint64(buf)
	return time.Unix(int64(secondsSinceEpoch)+itsdangerousEpoch, 0), nil
}

// base64URLDecode decodes itsdangerous' base64url-without-padding segments.
func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// decompressPayload inflates the decoded payload when its segment carried
// the leading "." marker Flask adds when a session payload compresses
// smaller than it is uncompressed.
func decompressPayload(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid compressed payload: %v", ErrBadSignature, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid compressed payload: %v", ErrBadSignature, err)
	}
	return out, nil
}
