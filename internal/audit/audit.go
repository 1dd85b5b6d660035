// SPDX-License-Identifier: MIT

// Package audit writes structured audit records for operator actions that
// change device or catalog state. Each record answers who, what and when.
package audit

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"

	// Device control
	EventDeviceRetry      EventType = "device.retry"
	EventDeviceDisconnect EventType = "device.disconnect"

	// Transfer sessions
	EventSyncStart   EventType = "sync.start"
	EventSyncCancel  EventType = "sync.cancel"
	EventImportStart EventType = "import.start"
)

// Results recorded on an event.
const (
	ResultStarted  = "started"
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// ActorSystem marks actions the daemon takes on its own.
const ActorSystem = "system"

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`    // client IP or "system"
	Action     string            `json:"action"`   // human-readable description
	Resource   string            `json:"resource"` // device serial, session key or config file
	Result     string            `json:"result"`
	RemoteAddr string            `json:"remote_addr"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id"`
	Details    map[string]string `json:"details,omitempty"`
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	return newLogger(log.WithComponent("audit"))
}

func newLogger(base zerolog.Logger) *Logger {
	return &Logger{logger: base.With().Str("log_type", "audit").Logger()}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}
	if event.UserAgent != "" {
		logEvent.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		logEvent.Str(log.FieldCorrelationID, event.RequestID)
	}
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// Request logs an event triggered by an API request. The actor, client
// metadata and correlation id are taken from r.
func (l *Logger) Request(r *http.Request, event Event) {
	addr := clientIP(r)
	if event.Actor == "" {
		event.Actor = addr
	}
	event.RemoteAddr = addr
	event.UserAgent = r.UserAgent()
	if event.RequestID == "" {
		event.RequestID = log.CorrelationIDFromContext(r.Context())
	}
	l.Log(event)
}

// ConfigReload logs a configuration reload.
func (l *Logger) ConfigReload(actor, path string, err error) {
	event := Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: path,
		Result:   ResultSuccess,
	}
	if err != nil {
		event.Type = EventConfigReloadError
		event.Action = "configuration reload failed"
		event.Result = ResultFailure
		event.Details = map[string]string{"error": err.Error()}
	}
	l.Log(event)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
