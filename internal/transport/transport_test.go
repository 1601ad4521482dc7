package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestTCPDialer_Dial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	conn, err := NewTCPDialer(time.Second).DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestTCPDialer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTCPDialer(time.Second).DialContext(ctx, "tcp", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestNewTCPDialer_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultDialTimeout, NewTCPDialer(0).Timeout)
}

func TestParseJumpSpec(t *testing.T) {
	tests := []struct {
		spec    string
		user    string
		host    string
		port    int
		wantErr bool
	}{
		{"admin@bastion.example.com", "admin", "bastion.example.com", 22, false},
		{"admin@bastion:2222", "admin", "bastion", 2222, false},
		{"bastion:22", "", "", 0, true},
		{"admin@bastion:99999", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			user, host, port, err := ParseJumpSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestNewSSHDialer_Validation(t *testing.T) {
	_, err := NewSSHDialer(&SSHConfig{Host: "bastion", KeyPath: "/k"})
	assert.Error(t, err, "user is required")

	_, err = NewSSHDialer(&SSHConfig{User: "u", Host: "bastion"})
	assert.Error(t, err, "key path is required")

	d, err := NewSSHDialer(&SSHConfig{User: "u", Host: "bastion", KeyPath: "/k"})
	require.NoError(t, err)
	assert.Equal(t, 22, d.config.Port)
	assert.NoError(t, d.Close())
}

func TestSSHDialer_MissingKey(t *testing.T) {
	d, err := NewSSHDialer(&SSHConfig{User: "u", Host: "127.0.0.1", KeyPath: "/nonexistent/key", InsecureIgnoreHostKey: true})
	require.NoError(t, err)

	_, err = d.DialContext(context.Background(), "tcp", "example.com:23")
	assert.ErrorContains(t, err, "read ssh key")
}

// writeTestKey writes a fresh ed25519 private key in OpenSSH format.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

// silentJumpHost accepts TCP connections and never speaks SSH.
func silentJumpHost(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	conns := make(chan net.Conn, 16)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(conns)
				return
			}
			conns <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for c := range conns {
			c.Close()
		}
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSSHDialer_StalledHandshakeTimesOut(t *testing.T) {
	d, err := NewSSHDialer(&SSHConfig{
		User:                  "u",
		Host:                  "127.0.0.1",
		Port:                  silentJumpHost(t),
		KeyPath:               writeTestKey(t),
		InsecureIgnoreHostKey: true,
		Timeout:               200 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = d.DialContext(context.Background(), "tcp", "example.com:23")
	assert.ErrorContains(t, err, "ssh handshake")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSSHDialer_StalledHandshakeHonorsCancel(t *testing.T) {
	d, err := NewSSHDialer(&SSHConfig{
		User:                  "u",
		Host:                  "127.0.0.1",
		Port:                  silentJumpHost(t),
		KeyPath:               writeTestKey(t),
		InsecureIgnoreHostKey: true,
		Timeout:               time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err = d.DialContext(ctx, "tcp", "example.com:23")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
