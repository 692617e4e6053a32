package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

// fakeWriter captures written messages.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishWritesJSON(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := NewWithWriter(writer)

	_, err := p.Publish(context.Background(), "billing", map[string]int{"units": 2})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(writer.msgs))
	}
	if writer.msgs[0].Topic != "billing" {
		t.Fatalf("topic = %q", writer.msgs[0].Topic)
	}

	var payload map[string]int
	if err := json.Unmarshal(writer.msgs[0].Value, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["units"] != 2 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(&fakeWriter{})
	if _, err := p.Publish(context.Background(), "", "x"); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestPublishPropagatesWriterError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(&fakeWriter{err: errors.New("broker down")})
	if _, err := p.Publish(context.Background(), "jobs", "x"); err == nil {
		t.Fatal("expected writer error")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := NewWithWriter(writer)
	if err := p.Close(); err != nil || !writer.closed {
		t.Fatalf("Close() err=%v closed=%v", err, writer.closed)
	}
}
