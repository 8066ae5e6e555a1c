package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// Test key generated with: openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM=" // "test-key-for-unit-tests-32-bytes"

func TestNewCredentialEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid 32-byte base64 key", key: testKey},
		{name: "passphrase", key: "correct horse battery staple"},
		{name: "short base64 treated as passphrase", key: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "empty key", key: "", wantErr: ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc == nil {
				t.Fatal("expected encryptor")
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, plaintext := range []string{"s3cret", "p@ss/word with spaces", "日本語", strings.Repeat("x", 4096)} {
		ciphertext, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if ciphertext == plaintext {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}
		got, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}

	empty, err := enc.Encrypt("")
	if err != nil || empty != "" {
		t.Errorf("empty plaintext should stay empty, got %q, %v", empty, err)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)
	a, _ := enc.Encrypt("same")
	b, _ := enc.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)
	other, _ := NewCredentialEncryptor("another passphrase")
	ciphertext, _ := enc.Encrypt("s3cret")

	if _, err := other.Decrypt(ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptInvalidInput(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)
	for _, input := range []string{"not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := enc.Decrypt(input); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt(%q): expected ErrDecryptionFailed, got %v", input, err)
		}
	}
}

func TestSealReveal(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	sealed, err := enc.Seal("peer-secret")
	if err != nil {
		t.Fatal(err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("sealed value %q lacks prefix", sealed)
	}

	got, err := Reveal(enc, sealed)
	if err != nil || got != "peer-secret" {
		t.Errorf("Reveal sealed: got %q, %v", got, err)
	}

	got, err = Reveal(nil, "plain")
	if err != nil || got != "plain" {
		t.Errorf("Reveal plain: got %q, %v", got, err)
	}

	if _, err := Reveal(nil, sealed); !errors.Is(err, ErrNoKey) {
		t.Errorf("expected ErrNoKey, got %v", err)
	}

	if s, _ := enc.Seal(""); s != "" {
		t.Errorf("sealing empty value should stay empty, got %q", s)
	}
}
