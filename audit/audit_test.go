package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func testRecord(identifier string, success bool, reason string) Record {
	return Record{
		OwnerID:    "owner-1",
		Identifier: identifier,
		Timestamp:  time.Unix(1_700_000_000, 0).UTC(),
		Success:    success,
		IP:         "10.0.0.1",
		UserAgent:  "test-agent",
		Reason:     reason,
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), testRecord("alice", false, ReasonPasswordMismatch))
	sink.Emit(context.Background(), testRecord("alice", true, ""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first Record
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Reason != ReasonPasswordMismatch || first.Success {
		t.Fatalf("unexpected first record: %+v", first)
	}

	var second Record
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line: %v", err)
	}
	if !second.Success || second.Reason != "" {
		t.Fatalf("unexpected second record: %+v", second)
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	dispatcher := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		dispatcher.Emit(context.Background(), testRecord("user", i%2 == 0, ""))
	}
	dispatcher.Close()

	received := 0
	for {
		select {
		case <-sink.Records():
			received++
			if received == 10 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("received %d records, want 10", received)
		}
	}
}

type slowSink struct {
	mu      sync.Mutex
	release chan struct{}
	seen    int
}

func (s *slowSink) Emit(context.Context, Record) {
	<-s.release
	s.mu.Lock()
	s.seen++
	s.mu.Unlock()
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	dispatcher := NewDispatcher(Config{Enabled: true, BufferSize: 2, DropIfFull: true}, sink)

	// Worker blocks on the first record; two more fill the buffer; the rest drop.
	for i := 0; i < 8; i++ {
		dispatcher.Emit(context.Background(), testRecord("user", false, ReasonAccountLocked))
	}

	if dropped := dispatcher.Dropped(); dropped == 0 {
		t.Fatal("expected drops with a full buffer and a stuck sink")
	}

	close(sink.release)
	dispatcher.Close()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	dispatcher := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if dispatcher != nil {
		t.Fatal("disabled dispatcher must be nil")
	}

	// Nil dispatcher methods are safe.
	dispatcher.Emit(context.Background(), testRecord("user", true, ""))
	dispatcher.Close()
	if dispatcher.Dropped() != 0 {
		t.Fatal("nil dispatcher dropped count must be zero")
	}
}
