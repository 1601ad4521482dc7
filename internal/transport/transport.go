// Package transport opens the outbound TCP connections telnet sessions
// run over: directly, or forwarded through an SSH jump host.
package transport

import (
	"context"
	"net"
	"time"
)

// Dialer opens outbound connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewTCPDialer returns a TCPDialer with the given timeout (0 = default).
func NewTCPDialer(timeout time.Duration) *TCPDialer {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &TCPDialer{Timeout: timeout, KeepAlive: 30 * time.Second}
}

// DialContext connects to address; cancelling ctx aborts the attempt.
func (d *TCPDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, network, address)
}
