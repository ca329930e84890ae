package awsmcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"
)

// EventType is the kind of an audit entry.
type EventType string

const (
	EventToolCall    EventType = "tool_call"
	EventToolSuccess EventType = "tool_success"
	EventToolError   EventType = "tool_error"
)

// AuditEntry is one immutable audit record.
type AuditEntry struct {
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// AuditSink stores audit entries.
type AuditSink interface {
	Write(AuditEntry) error
}

// AuditLog fans entries out to its sinks. Sink failures are logged and
// never returned to the invocation. A nil *AuditLog records nothing.
type AuditLog struct {
	sinks  []AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLog creates an audit log. If logger is nil, slog.Default() is
// used for error reporting.
func NewAuditLog(logger *slog.Logger, sinks ...AuditSink) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
}

// Record writes one entry to every sink.
func (l *AuditLog) Record(eventType EventType, data map[string]any) {
	if l == nil {
		return
	}
	entry := AuditEntry{
		EventType: eventType,
		Timestamp: l.now().UTC(),
		Data:      maps.Clone(data),
	}
	for _, s := range l.sinks {
		if err := s.Write(entry); err != nil {
			l.logger.Error("audit write failed", "event_type", eventType, "error", err)
		}
	}
}

// FileSink appends entries as JSON lines to a file.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Write implements AuditSink.
func (s *FileSink) Write(e AuditEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("audit log %s is closed", s.path)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write audit log %s: %w", s.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// LogSink writes entries to a structured log stream.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Write implements AuditSink.
func (s *LogSink) Write(e AuditEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	s.logger.Info("AUDIT", "event_type", string(e.EventType), "entry", string(line))
	return nil
}

// MemorySink keeps entries in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Write implements AuditSink.
func (s *MemorySink) Write(e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Data = maps.Clone(e.Data)
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (s *MemorySink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	for i, e := range s.entries {
		e.Data = maps.Clone(e.Data)
		out[i] = e
	}
	return out
}
