package authcookie

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"
)

// buildCookie assembles a cookie string using the same wire format
// Verifier.verify expects, independent of any production encode path (this
// package only ever needs to verify cookies Flask produced, not mint them).
func buildCookie(t *testing.T, v Verifier, payload []byte, ts time.Time, compress bool) string {
	t.Helper()

	if compress {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("zlib write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("zlib close: %v", err)
		}
		payload = buf.Bytes()
	}

	payloadSeg := base64.RawURLEncoding.EncodeToString(payload)
	if compress {
		payloadSeg = string(compressedMarker) + payloadSeg
	}

	secs := uint64(ts.Unix() - itsdangerousEpoch)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, secs)
	// itsdangerous trims leading zero bytes from the encoded integer.
	i := 0
	for i < len(tsBuf)-1 && tsBuf[i] == 0 {
		i++
	}
	timestampSeg := base64.RawURLEncoding.EncodeToString(tsBuf[i:])

	signed := payloadSeg + "." + timestampSeg
	sig := v.sign(signed)
	sigSeg := base64.RawURLEncoding.EncodeToString(sig)

	return signed + "." + sigSeg
}

func TestVerifier_UserID(t *testing.T) {
	v := Verifier{SecretKey: "super-secret", MaxAge: time.Hour}
	cookie := buildCookie(t, v, []byte(`{"_user_id":"42"}`), time.Now(), false)

	uid, err := v.UserID(cookie)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != 42 {
		t.Fatalf("got user id %d, want 42", uid)
	}
}

func TestVerifier_UserID_Compressed(t *testing.T) {
	v := Verifier{SecretKey: "super-secret", MaxAge: time.Hour}
	cookie := buildCookie(t, v, []byte(`{"_user_id":"7"}`), time.Now(), true)

	uid, err := v.UserID(cookie)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != 7 {
		t.Fatalf("got user id %d, want 7", uid)
	}
}

func TestVerifier_UserID_BadSignature(t *testing.T) {
	v := Verifier{SecretKey: "super-secret", MaxAge: time.Hour}
	cookie := buildCookie(t, v, []byte(`{"_user_id":"1"}`), time.Now(), false)

	other := Verifier{SecretKey: "different-secret", MaxAge: time.Hour}
	if _, err := other.UserID(cookie); err == nil {
		t.Fatalf("expected an error verifying with the wrong secret")
	}
}

func TestVerifier_UserID_Expired(t *testing.T) {
	v := Verifier{SecretKey: "super-secret", MaxAge: time.Minute}
	cookie := buildCookie(t, v, []byte(`{"_user_id":"1"}`), time.Now().Add(-time.Hour), false)

	if _, err := v.UserID(cookie); err != ErrExpired {
		t.Fatalf("got error %v, want ErrExpired", err)
	}
}

func TestVerifier_UserID_MalformedCookie(t *testing.T) {
	v := Verifier{SecretKey: "super-secret", MaxAge: time.Hour}
	if _, err := v.UserID("not-a-valid-cookie"); err == nil {
		t.Fatalf("expected an error for a malformed cookie")
	}
}
