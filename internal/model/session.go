package model

import (
	"time"
)

// SessionStatus represents the status of a telnet session.
type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusStreaming  SessionStatus = "streaming"
	SessionStatusClosed     SessionStatus = "closed"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusClosed || s == SessionStatusFailed
}

// Session is the audit record of one TCP session to a remote endpoint.
type Session struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	ClientID  string        `json:"clientId,omitempty"`
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Status    SessionStatus `json:"status"`
	BytesIn   int64         `json:"bytesIn"`
	BytesOut  int64         `json:"bytesOut"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Endpoint returns the remote endpoint of the record.
func (s *Session) Endpoint() Endpoint {
	return Endpoint{Host: s.Host, Port: s.Port}
}

// Duration returns how long the session has existed.
func (s *Session) Duration() time.Duration {
	if s.Status.IsTerminal() {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}
