package auth

import (
	"bytes"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher("test-pepper", 1000)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashDeterministic(t *testing.T) {
	h := testHasher(t)
	salt, err := h.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}

	first := h.Hash("correct horse", salt, h.Iterations())
	second := h.Hash("correct horse", salt, h.Iterations())
	if !bytes.Equal(first, second) {
		t.Fatal("same plaintext and salt produced different digests")
	}
	if len(first) != digestLength {
		t.Fatalf("unexpected digest length %d", len(first))
	}

	if !h.Verify("correct horse", salt, h.Iterations(), first) {
		t.Fatal("Verify rejected the original plaintext")
	}
	if h.Verify("correct horsf", salt, h.Iterations(), first) {
		t.Fatal("Verify accepted a different plaintext")
	}
}

func TestVerifyRejectsFlippedDigest(t *testing.T) {
	h := testHasher(t)
	salt, _ := h.NewSalt()
	digest := h.Hash("secret", salt, h.Iterations())

	for i := range digest {
		flipped := append([]byte(nil), digest...)
		flipped[i] ^= 0x01
		if h.Verify("secret", salt, h.Iterations(), flipped) {
			t.Fatalf("Verify accepted digest with bit flipped at byte %d", i)
		}
	}
}

func TestHashDependsOnSaltAndPepper(t *testing.T) {
	h := testHasher(t)
	saltA, _ := h.NewSalt()
	saltB, _ := h.NewSalt()
	if bytes.Equal(saltA, saltB) {
		t.Fatal("two fresh salts were identical")
	}
	if bytes.Equal(h.Hash("pw", saltA, 1000), h.Hash("pw", saltB, 1000)) {
		t.Fatal("digest did not depend on salt")
	}

	other, err := NewHasher("other-pepper", 1000)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if bytes.Equal(h.Hash("pw", saltA, 1000), other.Hash("pw", saltA, 1000)) {
		t.Fatal("digest did not depend on pepper")
	}
}

func TestVerifyReplaysStoredIterations(t *testing.T) {
	h := testHasher(t)
	salt, _ := h.NewSalt()

	// A credential hashed under an older, lower count still verifies after
	// the default is raised.
	oldDigest := h.Hash("pw", salt, 500)
	raised, err := NewHasher("test-pepper", 2000)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if !raised.Verify("pw", salt, 500, oldDigest) {
		t.Fatal("verification did not replay the stored iteration count")
	}
	if raised.Verify("pw", salt, raised.Iterations(), oldDigest) {
		t.Fatal("digest verified under the wrong iteration count")
	}
}
