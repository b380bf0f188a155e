package crypto

import "testing"

func TestHashTokenVerifyToken(t *testing.T) {
	digest := HashToken("secret-value", "pepper")
	if !VerifyToken("secret-value", digest, "pepper") {
		t.Error("VerifyToken should accept the matching secret")
	}
	if VerifyToken("wrong-value", digest, "pepper") {
		t.Error("VerifyToken should reject a mismatched secret")
	}
	if VerifyToken("secret-value", digest, "other-pepper") {
		t.Error("VerifyToken should reject a digest hashed under a different pepper")
	}
}

func TestBoxEncryptDecryptRoundTrip(t *testing.T) {
	box := NewBox("test-encryption-key")

	ciphertext, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == "hunter2" {
		t.Error("Encrypt() should not return the plaintext unchanged")
	}

	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "hunter2" {
		t.Errorf("Decrypt() = %q, want hunter2", plaintext)
	}
}

func TestBoxEncryptIsIdempotent(t *testing.T) {
	box := NewBox("test-encryption-key")

	once, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	twice, err := box.Encrypt(once)
	if err != nil {
		t.Fatalf("Encrypt() of ciphertext error = %v", err)
	}
	if once != twice {
		t.Error("encrypting an already-encrypted value should be a no-op")
	}
}

func TestBoxDecryptWrongKeyFails(t *testing.T) {
	box := NewBox("test-encryption-key")
	other := NewBox("a-different-key")

	ciphertext, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := other.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with the wrong key should fail")
	}
}

func TestIsSensitiveField(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"api_key", true},
		{"API_KEY", true},
		{"password", true},
		{"bot_token", true},
		{"client_secret", true},
		{"webhook_url", true},
		{"channel", false},
		{"site", false},
		{"region", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveField(tt.key); got != tt.want {
				t.Errorf("IsSensitiveField(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEncryptDictDecryptDictRoundTrip(t *testing.T) {
	box := NewBox("test-encryption-key")

	doc := map[string]any{
		"api_host": "grafana.example.com",
		"api_key":  "plaintext-key",
		"nested": map[string]any{
			"password": "plaintext-pw",
			"channel":  "C123",
		},
		"list": []any{
			map[string]any{"token": "plaintext-tok"},
		},
	}

	encryptedAny, err := box.EncryptDict(doc)
	if err != nil {
		t.Fatalf("EncryptDict() error = %v", err)
	}
	encrypted := encryptedAny.(map[string]any)

	if encrypted["api_host"] != "grafana.example.com" {
		t.Error("non-sensitive field should pass through unchanged")
	}
	if encrypted["api_key"] == "plaintext-key" {
		t.Error("api_key should be encrypted")
	}
	nested := encrypted["nested"].(map[string]any)
	if nested["password"] == "plaintext-pw" {
		t.Error("nested password should be encrypted")
	}
	if nested["channel"] != "C123" {
		t.Error("nested non-sensitive field should pass through unchanged")
	}
	listItem := encrypted["list"].([]any)[0].(map[string]any)
	if listItem["token"] == "plaintext-tok" {
		t.Error("token nested in a list should be encrypted")
	}

	decryptedAny, err := box.DecryptDict(encrypted)
	if err != nil {
		t.Fatalf("DecryptDict() error = %v", err)
	}
	decrypted := decryptedAny.(map[string]any)
	if decrypted["api_key"] != "plaintext-key" {
		t.Errorf("api_key after round trip = %v, want plaintext-key", decrypted["api_key"])
	}
	decryptedNested := decrypted["nested"].(map[string]any)
	if decryptedNested["password"] != "plaintext-pw" {
		t.Errorf("nested password after round trip = %v, want plaintext-pw", decryptedNested["password"])
	}
}
