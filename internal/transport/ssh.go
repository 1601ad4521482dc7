package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the jump host used to reach remote endpoints.
type SSHConfig struct {
	User           string
	Host           string
	Port           int
	KeyPath        string
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification when no known_hosts
	// file is configured.
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

var jumpSpecRe = regexp.MustCompile(`^([^@]+)@([^:]+)(?::(\d+))?$`)

// ParseJumpSpec parses "user@host[:port]"; the port defaults to 22.
func ParseJumpSpec(spec string) (user, host string, port int, err error) {
	m := jumpSpecRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid ssh jump spec %q, expected user@host[:port]", spec)
	}
	port = 22
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid ssh jump port %q", m[3])
		}
	}
	return m[1], m[2], port, nil
}

// SSHDialer forwards connections through an SSH client connected to a
// jump host. The SSH connection is opened lazily and re-opened after it drops.
type SSHDialer struct {
	config *SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer validates cfg and returns a dialer. No connection is made yet.
func NewSSHDialer(cfg *SSHConfig) (*SSHDialer, error) {
	if cfg.User == "" || cfg.Host == "" {
		return nil, fmt.Errorf("ssh jump host requires user and host")
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh jump host requires a private key path")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	return &SSHDialer{config: cfg}, nil
}

// DialContext opens a forwarded connection to address through the jump host.
func (d *SSHDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("ssh forward to %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection, if any.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	clientConfig, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))
	dialer := net.Dialer{Timeout: d.config.Timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh jump host %s: %w", addr, err)
	}

	// The handshake ignores ctx, so bound it with a deadline and interrupt
	// it on cancellation.
	deadline := time.Now().Add(d.config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	tcpConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { tcpConn.SetDeadline(time.Unix(1, 0)) })

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, clientConfig)
	stopped := stop()
	if err == nil && !stopped {
		err = ctx.Err()
		sshConn.Close()
	}
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	tcpConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	go d.monitor(client)

	return client, nil
}

// monitor forgets the client once its connection ends so the next dial reconnects.
func (d *SSHDialer) monitor(client *ssh.Client) {
	client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(d.config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	switch {
	case d.config.KnownHostsPath != "":
		hostKeyCallback, err = knownhosts.New(d.config.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	case d.config.InsecureIgnoreHostKey:
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, fmt.Errorf("ssh jump host requires known_hosts or explicit insecure host key mode")
	}

	return &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.config.Timeout,
	}, nil
}
