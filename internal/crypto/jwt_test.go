package crypto

import (
	"testing"
	"time"
)

func TestJWTSignerImpersonationRoundTrip(t *testing.T) {
	signer, err := NewJWTSigner("impersonation-secret")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}

	token, err := signer.MintImpersonation("config-service", "agent-runtime", "admin-1", "org-1", "team-1", "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("MintImpersonation() error = %v", err)
	}

	claims, err := signer.VerifyImpersonation(token, "agent-runtime")
	if err != nil {
		t.Fatalf("VerifyImpersonation() error = %v", err)
	}
	if claims.OrgID != "org-1" || claims.TeamNodeID != "team-1" {
		t.Errorf("claims = %+v, want org-1/team-1", claims)
	}
	if claims.Subject != "admin-1" {
		t.Errorf("Subject = %q, want admin-1", claims.Subject)
	}
}

func TestJWTSignerImpersonationWrongAudienceRejected(t *testing.T) {
	signer, err := NewJWTSigner("impersonation-secret")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}
	token, err := signer.MintImpersonation("config-service", "agent-runtime", "admin-1", "org-1", "team-1", "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("MintImpersonation() error = %v", err)
	}
	if _, err := signer.VerifyImpersonation(token, "some-other-audience"); err == nil {
		t.Error("VerifyImpersonation() should reject a token minted for a different audience")
	}
}

func TestJWTSignerImpersonationExpired(t *testing.T) {
	signer, err := NewJWTSigner("impersonation-secret")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}
	token, err := signer.MintImpersonation("config-service", "agent-runtime", "admin-1", "org-1", "team-1", "jti-1", -time.Minute)
	if err != nil {
		t.Fatalf("MintImpersonation() error = %v", err)
	}
	if _, err := signer.VerifyImpersonation(token, "agent-runtime"); err == nil {
		t.Error("VerifyImpersonation() should reject an already-expired token")
	}
}

func TestJWTSignerSandboxRoundTrip(t *testing.T) {
	signer, err := NewJWTSigner("sandbox-secret")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}

	token, err := signer.MintSandbox("credential-proxy", "org-1", "team-1", "jti-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("MintSandbox() error = %v", err)
	}

	claims, err := signer.VerifySandbox(token, "credential-proxy")
	if err != nil {
		t.Fatalf("VerifySandbox() error = %v", err)
	}
	if claims.OrgID != "org-1" || claims.TeamNodeID != "team-1" || claims.RunID != "run-1" {
		t.Errorf("claims = %+v, want org-1/team-1/run-1", claims)
	}
}

func TestJWTSignerRejectsTokenFromDifferentSigner(t *testing.T) {
	signerA, err := NewJWTSigner("secret-a")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}
	signerB, err := NewJWTSigner("secret-b")
	if err != nil {
		t.Fatalf("NewJWTSigner() error = %v", err)
	}

	token, err := signerA.MintSandbox("credential-proxy", "org-1", "team-1", "jti-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("MintSandbox() error = %v", err)
	}
	if _, err := signerB.VerifySandbox(token, "credential-proxy"); err == nil {
		t.Error("VerifySandbox() should reject a token signed by a different key")
	}
}
