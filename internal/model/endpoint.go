package model

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies a remote line-oriented TCP service. It is comparable
// and safe to use as a map key.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewEndpoint validates host and port and returns an Endpoint.
func NewEndpoint(host string, port int) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, InvalidArgument("host is required")
	}
	if strings.ContainsAny(host, "/\\ \t\r\n") {
		return Endpoint{}, InvalidArgument("host %q contains invalid characters", host)
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, InvalidArgument("port %d out of range 1-65535", port)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ParseEndpoint parses a port given as text, as it arrives from browsers.
func ParseEndpoint(host, port string) (Endpoint, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return Endpoint{}, InvalidArgument("port %q is not a number", port)
	}
	return NewEndpoint(host, p)
}

// String returns the canonical host_port form used for group names and
// history keys.
func (e Endpoint) String() string {
	return e.Host + "_" + strconv.Itoa(e.Port)
}

// Address returns the host:port form accepted by net.Dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}
