package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/wagateway/internal/tracing"
	"github.com/rs/zerolog"
)

// Audit event types.
const (
	AuditTypeSession  = "session"
	AuditTypeSecurity = "security"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`  // client id or remote address
	Action    string                 `json:"action"`           // e.g. "sessions.create", "auth.failed"
	Target    string                 `json:"target,omitempty"` // session id
	Status    string                 `json:"status"`           // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records who changed what. A nil *AuditLogger discards events.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit events as JSON lines to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	a := &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

// OpenAuditLog appends audit events to the file at path.
func OpenAuditLog(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return NewAuditLogger(file), nil
}

// Record emits an audit event. The trace id is taken from ctx when unset.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}
	if event.Actor == "" {
		event.Actor = tracing.GetClientID(ctx)
	}
	if event.Target == "" {
		event.Target = tracing.GetSessionID(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("target", event.Target).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the underlying writer if it is closable.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// RecordSession logs the outcome of a session-mutating call.
func (a *AuditLogger) RecordSession(ctx context.Context, action string, err error) {
	event := AuditEvent{
		Type:   AuditTypeSession,
		Action: action,
		Status: "success",
	}
	if err != nil {
		event.Status = "failure"
		event.Metadata = map[string]interface{}{"error": err.Error()}
	}
	a.Record(ctx, event)
}

// RecordSecurity logs an authentication or authorization decision.
func (a *AuditLogger) RecordSecurity(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     AuditTypeSecurity,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}
