package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateAndVerifyVRF(t *testing.T) {
	key, err := DeriveSigningKey([]byte("0123456789abcdef0123456789abcdef"), "vrf")
	if err != nil {
		t.Fatalf("DeriveSigningKey: %v", err)
	}

	p1, err := GenerateVRF(key, []byte("seed"))
	if err != nil {
		t.Fatalf("GenerateVRF: %v", err)
	}
	p2, err := GenerateVRF(key, []byte("seed"))
	if err != nil {
		t.Fatalf("GenerateVRF: %v", err)
	}
	if !bytes.Equal(p1.Output, p2.Output) {
		t.Error("output should be deterministic for the same key and input")
	}
	if err := VerifyVRF(p1); err != nil {
		t.Errorf("VerifyVRF: %v", err)
	}

	p1.Output[0] ^= 0xff
	if err := VerifyVRF(p1); err == nil {
		t.Error("tampered output should not verify")
	}
}

func TestDeriveSigningKey_Deterministic(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a, _ := DeriveSigningKey(secret, "vrf")
	b, _ := DeriveSigningKey(secret, "vrf")
	c, _ := DeriveSigningKey(secret, "other")
	if !bytes.Equal(a, b) {
		t.Error("same secret and info should derive the same key")
	}
	if bytes.Equal(a, c) {
		t.Error("different info should derive a different key")
	}
	if _, err := DeriveSigningKey([]byte("short"), "vrf"); err == nil {
		t.Error("short secret should be rejected")
	}
}

func TestExpandWords(t *testing.T) {
	words := ExpandWords([]byte("output"), 3)
	if len(words) != 3 {
		t.Fatalf("len = %d, want 3", len(words))
	}
	if words[0].Cmp(words[1]) == 0 {
		t.Error("words should differ")
	}
	if words[0].Sign() <= 0 {
		t.Error("word should be positive")
	}
}
