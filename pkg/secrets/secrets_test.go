package secrets

import (
	"errors"
	"strings"
	"testing"
)

func newCipher(t *testing.T, purpose string) *Cipher {
	t.Helper()
	c, err := NewCipher([]byte("master-secret-for-tests-0123456789"), purpose)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestSealOpen(t *testing.T) {
	c := newCipher(t, "x-oauth")
	sealed, err := c.Seal("token-abc")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !Sealed(sealed) || strings.Contains(sealed, "token-abc") {
		t.Fatalf("sealed = %q", sealed)
	}
	again, _ := c.Seal("token-abc")
	if again == sealed {
		t.Fatal("two seals of the same value should differ")
	}
	plain, err := c.Open(sealed)
	if err != nil || plain != "token-abc" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
}

func TestOpen_PlaintextPassthrough(t *testing.T) {
	c := newCipher(t, "x-oauth")
	if got, err := c.Open("legacy-plain"); err != nil || got != "legacy-plain" {
		t.Fatalf("Open = %q, %v", got, err)
	}
	if got, _ := c.Seal(""); got != "" {
		t.Fatalf("Seal(\"\") = %q", got)
	}
}

func TestOpen_WrongPurposeFails(t *testing.T) {
	sealed, _ := newCipher(t, "x-oauth").Seal("token")
	if _, err := newCipher(t, "other").Open(sealed); err == nil {
		t.Fatal("expected failure opening with a different purpose key")
	}
}

func TestOpen_Corrupt(t *testing.T) {
	c := newCipher(t, "x-oauth")
	if _, err := c.Open(sealedPrefix + "!!!"); err == nil {
		t.Fatal("expected base64 error")
	}
	if _, err := c.Open(sealedPrefix + "AAAA"); !errors.Is(err, ErrShortCiphertext) {
		t.Fatalf("err = %v, want ErrShortCiphertext", err)
	}
}

func TestNewCipher_EmptyMaster(t *testing.T) {
	if _, err := NewCipher(nil, "x"); err == nil {
		t.Fatal("expected error for empty master secret")
	}
}
