package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	data := []byte("<html>page</html>")

	uri, err := s.Put(context.Background(), "jobs/1/0.html", "text/html", data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "memory://jobs/1/0.html" {
		t.Fatalf("uri = %q", uri)
	}

	got, ok := s.Get("jobs/1/0.html")
	if !ok || string(got) != string(data) {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	// The store owns its bytes; mutating the original must not leak in.
	data[0] = 'X'
	got, _ = s.Get("jobs/1/0.html")
	if got[0] == 'X' {
		t.Fatal("store shares memory with the caller")
	}

	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}
