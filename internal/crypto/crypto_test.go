package crypto

import "testing"

func TestEncryptor_RoundTrip(t *testing.T) {
	e := NewEncryptor("operator-passphrase")

	sealed, err := e.Encrypt("sk-ant-secret")
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(sealed) {
		t.Error("encrypted value should carry the enc: prefix")
	}

	plain, err := e.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if plain != "sk-ant-secret" {
		t.Errorf("round trip mismatch: %q", plain)
	}
}

func TestEncryptor_WrongKeyFails(t *testing.T) {
	sealed, err := NewEncryptor("key-a").Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEncryptor("key-b").Decrypt(sealed); err == nil {
		t.Error("decryption with the wrong key must fail")
	}
}

func TestMaybeDecrypt_PassesPlaintextThrough(t *testing.T) {
	e := NewEncryptor("key")

	got, err := e.MaybeDecrypt("plain-api-key")
	if err != nil {
		t.Fatal(err)
	}
	if got != "plain-api-key" {
		t.Errorf("plaintext should pass through, got %q", got)
	}
}
