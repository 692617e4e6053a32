// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherSumDeterministic ensures repeated hashing yields the same digest.
func TestHasherSumDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Sum([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again := h.Sum([]byte("hello world"))
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherSumDiffers checks distinct inputs produce distinct digests.
func TestHasherSumDiffers(t *testing.T) {
	t.Parallel()

	h := New()
	if h.Sum([]byte("a")) == h.Sum([]byte("b")) {
		t.Fatal("expected different digests for different inputs")
	}
}
