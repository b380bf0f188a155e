package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
)

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySlack(t *testing.T) {
	secret := "shh"
	now := time.Unix(1700000000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"type":"event_callback"}`)
	base := fmt.Sprintf("v0:%s:%s", ts, body)
	goodSig := "v0=" + sign(secret, base)

	t.Run("valid signature", func(t *testing.T) {
		if err := VerifySlack(secret, ts, goodSig, body, now); err != nil {
			t.Errorf("VerifySlack() = %v, want nil", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifySlack(secret, ts, goodSig, []byte(`{"type":"tampered"}`), now)
		assertKind(t, err, apperr.BadSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		err := VerifySlack(secret, ts, goodSig, body, now.Add(10*time.Minute))
		assertKind(t, err, apperr.StaleTimestamp)
	})

	t.Run("missing secret", func(t *testing.T) {
		err := VerifySlack("", ts, goodSig, body, now)
		assertKind(t, err, apperr.MissingSigningSecret)
	})

	t.Run("missing timestamp header", func(t *testing.T) {
		err := VerifySlack(secret, "", goodSig, body, now)
		assertKind(t, err, apperr.MissingTimestampHeader)
	})

	t.Run("missing signature header", func(t *testing.T) {
		err := VerifySlack(secret, ts, "", body, now)
		assertKind(t, err, apperr.MissingSignatureHeader)
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		err := VerifySlack(secret, "not-a-number", goodSig, body, now)
		assertKind(t, err, apperr.InvalidSignatureFormat)
	})
}

func TestVerifyGitHub(t *testing.T) {
	secret := "shh"
	body := []byte(`{"action":"opened"}`)
	goodSig := "sha256=" + sign(secret, string(body))

	t.Run("valid signature", func(t *testing.T) {
		if err := VerifyGitHub(secret, goodSig, body); err != nil {
			t.Errorf("VerifyGitHub() = %v, want nil", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifyGitHub(secret, goodSig, []byte(`{"action":"closed"}`))
		assertKind(t, err, apperr.BadSignature)
	})

	t.Run("missing prefix", func(t *testing.T) {
		err := VerifyGitHub(secret, sign(secret, string(body)), body)
		assertKind(t, err, apperr.InvalidSignatureFormat)
	})

	t.Run("missing secret", func(t *testing.T) {
		err := VerifyGitHub("", goodSig, body)
		assertKind(t, err, apperr.MissingSigningSecret)
	})
}

func TestVerifyPagerDuty(t *testing.T) {
	secret := "shh"
	body := []byte(`{"event":{}}`)
	goodSig := "v1=" + sign(secret, string(body))

	t.Run("valid single signature", func(t *testing.T) {
		if err := VerifyPagerDuty(secret, goodSig, body); err != nil {
			t.Errorf("VerifyPagerDuty() = %v, want nil", err)
		}
	})

	t.Run("valid among multiple candidates", func(t *testing.T) {
		header := "v1=deadbeef " + goodSig
		if err := VerifyPagerDuty(secret, header, body); err != nil {
			t.Errorf("VerifyPagerDuty() = %v, want nil", err)
		}
	})

	t.Run("no candidate matches", func(t *testing.T) {
		err := VerifyPagerDuty(secret, "v1=deadbeef", body)
		assertKind(t, err, apperr.BadSignature)
	})
}

func TestVerifyIncidentio(t *testing.T) {
	secret := "shh"
	body := []byte(`{"team_id":"T1"}`)
	goodSig := sign(secret, string(body))

	t.Run("valid signature", func(t *testing.T) {
		if err := VerifyIncidentio(secret, goodSig, body); err != nil {
			t.Errorf("VerifyIncidentio() = %v, want nil", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifyIncidentio(secret, goodSig, []byte(`{"team_id":"T2"}`))
		assertKind(t, err, apperr.BadSignature)
	})
}

func TestVerifyGenericHMAC(t *testing.T) {
	secret := "shh"
	body := []byte(`{"x":1}`)
	goodSig := sign(secret, string(body))

	t.Run("valid unprefixed", func(t *testing.T) {
		if err := VerifyGenericHMAC("vercel", secret, goodSig, body); err != nil {
			t.Errorf("VerifyGenericHMAC() = %v, want nil", err)
		}
	})

	t.Run("valid sha256= prefixed", func(t *testing.T) {
		if err := VerifyGenericHMAC("vercel", secret, "sha256="+goodSig, body); err != nil {
			t.Errorf("VerifyGenericHMAC() = %v, want nil", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifyGenericHMAC("vercel", secret, goodSig, []byte(`{"x":2}`))
		assertKind(t, err, apperr.BadSignature)
	})

	t.Run("missing secret names vendor", func(t *testing.T) {
		err := VerifyGenericHMAC("firehydrant", "", goodSig, body)
		assertKind(t, err, apperr.MissingSigningSecret)
	})
}

func TestVerifyBearer(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		if err := VerifyBearer("recall", "secret-token", "secret-token"); err != nil {
			t.Errorf("VerifyBearer() = %v, want nil", err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		err := VerifyBearer("recall", "secret-token", "wrong-token")
		assertKind(t, err, apperr.BadSignature)
	})

	t.Run("missing presented token", func(t *testing.T) {
		err := VerifyBearer("recall", "secret-token", "")
		assertKind(t, err, apperr.MissingSignatureHeader)
	})

	t.Run("missing expected token", func(t *testing.T) {
		err := VerifyBearer("recall", "", "anything")
		assertKind(t, err, apperr.MissingSigningSecret)
	})
}

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want kind %q", want)
	}
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("error %v is not an *apperr.Error", err)
	}
	if appErr.Kind != want {
		t.Errorf("error kind = %q, want %q", appErr.Kind, want)
	}
}
