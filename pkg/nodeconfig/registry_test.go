package nodeconfig

import (
	"testing"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
)

func newTestRegistry() *Registry {
	return NewRegistry(DefaultSchemas, crypto.NewBox("test-encryption-key"))
}

func TestRegistry_SchemaAndList(t *testing.T) {
	r := newTestRegistry()

	if _, ok := r.Schema("slack"); !ok {
		t.Error("expected slack schema to be registered")
	}
	if _, ok := r.Schema("not-a-real-vendor"); ok {
		t.Error("expected unknown vendor to be absent")
	}

	all := r.List()
	if len(all) != len(DefaultSchemas) {
		t.Errorf("List() returned %d schemas, want %d", len(all), len(DefaultSchemas))
	}
}

func TestRegistry_Validate_UnknownIntegration(t *testing.T) {
	r := newTestRegistry()
	err := r.Validate("not-a-real-vendor", map[string]any{})
	if err == nil {
		t.Fatal("expected an error for an unknown integration id")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.SchemaViolation {
		t.Errorf("error = %v, want apperr.SchemaViolation", err)
	}
}

func TestRegistry_Validate_MissingRequiredFields(t *testing.T) {
	r := newTestRegistry()
	err := r.Validate("snowflake", map[string]any{"account": "acct-1"})
	if err == nil {
		t.Fatal("expected an error for missing required fields")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.IntegrationNotConfigured {
		t.Fatalf("error = %v, want apperr.IntegrationNotConfigured", err)
	}
	detail, ok := appErr.Detail.(map[string]any)
	if !ok {
		t.Fatalf("detail = %#v, want map[string]any", appErr.Detail)
	}
	missing, ok := detail["missing_fields"].([]string)
	if !ok {
		t.Fatalf("missing_fields = %#v, want []string", detail["missing_fields"])
	}
	want := map[string]bool{"username": true, "password": true, "warehouse": true}
	if len(missing) != len(want) {
		t.Fatalf("missing_fields = %v, want 3 entries matching %v", missing, want)
	}
	for _, m := range missing {
		if !want[m] {
			t.Errorf("unexpected missing field %q", m)
		}
	}
}

func TestRegistry_Validate_AllRequiredPresent(t *testing.T) {
	r := newTestRegistry()
	err := r.Validate("snowflake", map[string]any{
		"account":   "acct-1",
		"username":  "svc-user",
		"password":  "hunter2",
		"warehouse": "analytics",
	})
	if err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestRegistry_EncryptDecryptForStorage(t *testing.T) {
	r := newTestRegistry()

	block := map[string]any{"bot_token": "xoxb-plain", "channel": "C1"}
	encrypted, err := r.EncryptForStorage(block)
	if err != nil {
		t.Fatalf("EncryptForStorage() error = %v", err)
	}
	if encrypted["bot_token"] == "xoxb-plain" {
		t.Error("bot_token should be encrypted for storage")
	}
	if encrypted["channel"] != "C1" {
		t.Error("channel should be left unencrypted")
	}

	decrypted, err := r.DecryptForUse(encrypted)
	if err != nil {
		t.Fatalf("DecryptForUse() error = %v", err)
	}
	if decrypted["bot_token"] != "xoxb-plain" {
		t.Errorf("bot_token after round trip = %v, want xoxb-plain", decrypted["bot_token"])
	}
}

func TestRegistry_GetIntegrationConfig(t *testing.T) {
	r := newTestRegistry()

	encrypted, err := r.EncryptForStorage(map[string]any{"bot_token": "xoxb-plain", "channel": "C1"})
	if err != nil {
		t.Fatalf("EncryptForStorage() error = %v", err)
	}
	effective := map[string]any{"integrations": map[string]any{"slack": encrypted}}

	cfg, ok, err := r.GetIntegrationConfig(effective, "slack")
	if err != nil {
		t.Fatalf("GetIntegrationConfig() error = %v", err)
	}
	if !ok {
		t.Fatal("expected slack integration to be found")
	}
	if cfg["bot_token"] != "xoxb-plain" {
		t.Errorf("bot_token = %v, want xoxb-plain", cfg["bot_token"])
	}

	_, ok, err = r.GetIntegrationConfig(effective, "github")
	if err != nil {
		t.Fatalf("GetIntegrationConfig() error = %v", err)
	}
	if ok {
		t.Error("expected github integration to be absent")
	}

	_, ok, err = r.GetIntegrationConfig(map[string]any{}, "slack")
	if err != nil {
		t.Fatalf("GetIntegrationConfig() error = %v", err)
	}
	if ok {
		t.Error("expected no integrations block to mean absent")
	}
}
