package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Failure reasons stamped into records. The guard emits exactly one record
// per attempt with the most specific applicable reason.
const (
	ReasonUnknownIdentity  = "unknown_identity"
	ReasonAccountDisabled  = "account_disabled"
	ReasonAccountLocked    = "account_locked"
	ReasonEmailUnverified  = "email_unverified"
	ReasonPasswordMismatch = "password_mismatch"
)

// Record is one authentication attempt. OwnerID is empty when the presented
// identifier matched no known identity.
type Record struct {
	OwnerID    string    `json:"owner_id,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Sink receives emitted records.
type Sink interface {
	Emit(ctx context.Context, record Record)
}

// NoOpSink drops records.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Record) {}

// ChannelSink writes records into a buffered channel.
type ChannelSink struct {
	records chan Record
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{records: make(chan Record, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, record Record) {
	select {
	case s.records <- record:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Records() <-chan Record {
	return s.records
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, record Record) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
