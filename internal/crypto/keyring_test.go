package crypto

import (
	"encoding/base64"
	"testing"
)

func TestSealOpen(t *testing.T) {
	keys := map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	}
	kr, err := NewKeyring("k1", keys)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	raw, err := kr.Seal("super-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	out, err := kr.Open(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "super-secret" {
		t.Fatalf("expected original string, got %q", out)
	}
}

func TestRotationOpensOldSealsNew(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldRing, err := NewKeyring("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old keyring: %v", err)
	}
	oldCipher, err := oldRing.Seal("legacy")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewKeyring("new", map[string][]byte{
		"old": oldKey,
		"new": newKey,
	})
	if err != nil {
		t.Fatalf("rotated keyring: %v", err)
	}

	plain, err := rotated.Open(oldCipher)
	if err != nil {
		t.Fatalf("open with old key failed: %v", err)
	}
	if plain != "legacy" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}

	resealed, err := rotated.Reseal(oldCipher)
	if err != nil {
		t.Fatalf("reseal failed: %v", err)
	}
	fresh, err := rotated.Open(resealed)
	if err != nil {
		t.Fatalf("open resealed failed: %v", err)
	}
	if fresh != "legacy" {
		t.Fatalf("unexpected resealed plaintext: %q", fresh)
	}

	onlyNew, err := NewKeyring("new", map[string][]byte{"new": newKey})
	if err != nil {
		t.Fatalf("new-only keyring: %v", err)
	}
	if _, err := onlyNew.Open(resealed); err != nil {
		t.Fatalf("resealed envelope should open under the new key alone: %v", err)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("sk-1234567890abcdef"); got != "********************cdef" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := Mask("abc"); got != "****" {
		t.Fatalf("expected short secrets fully masked, got %q", got)
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
