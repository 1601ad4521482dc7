// Package config loads server settings from BRIDGE_* environment variables
// with command-line flag overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	flag "github.com/spf13/pflag"

	"github.com/telnet-web-access/backend/internal/session"
	"github.com/telnet-web-access/backend/internal/transport"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "BRIDGE"

// Settings holds the server configuration.
type Settings struct {
	Addr    string `envconfig:"ADDR" default:":8080"`
	Mode    string `envconfig:"MODE" default:"per-client"`
	DataDir string `envconfig:"DATA_DIR" default:"App_Data"`

	// History
	HistoryBackend     string `envconfig:"HISTORY_BACKEND" default:"file"`
	HistoryReplayBytes int    `envconfig:"HISTORY_REPLAY_BYTES" default:"8192"`
	HistoryMaxBytes    int64  `envconfig:"HISTORY_MAX_BYTES" default:"1048576"`
	RedisAddr          string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPrefix        string `envconfig:"REDIS_PREFIX" default:"telnet:history:"`

	// Audit and recording; empty disables.
	DBPath       string `envconfig:"DB_PATH" default:"App_Data/sessions.db"`
	RecordingDir string `envconfig:"RECORDING_DIR" default:""`

	// Telnet sessions
	ReadBufferSize       int           `envconfig:"READ_BUFFER_SIZE" default:"32768"`
	DialTimeout          time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	WriteTimeout         time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	Reconnect            bool          `envconfig:"RECONNECT" default:"false"`
	ReconnectMaxAttempts int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	IdleTimeout          time.Duration `envconfig:"IDLE_TIMEOUT" default:"5m"`
	JanitorInterval      time.Duration `envconfig:"JANITOR_INTERVAL" default:"1m"`
	FilterIAC            bool          `envconfig:"FILTER_IAC" default:"false"`

	// SSH jump host, user@host[:port]; empty dials directly.
	SSHJump       string `envconfig:"SSH_JUMP" default:""`
	SSHKeyPath    string `envconfig:"SSH_KEY_PATH" default:""`
	SSHKnownHosts string `envconfig:"SSH_KNOWN_HOSTS" default:""`
	SSHInsecure   bool   `envconfig:"SSH_INSECURE" default:"false"`

	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"text"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`
}

// Load reads the environment, then applies flags from args (without the
// program name).
func Load(args []string) (*Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("telnet-bridge", flag.ContinueOnError)
	fs.StringVarP(&s.Addr, "addr", "a", s.Addr, "HTTP listen address")
	fs.StringVarP(&s.Mode, "mode", "m", s.Mode, "Session mode: shared or per-client")
	fs.StringVarP(&s.DataDir, "data-dir", "d", s.DataDir, "Directory for history files")
	fs.StringVar(&s.HistoryBackend, "history", s.HistoryBackend, "History backend: file, memory or redis")
	fs.StringVar(&s.DBPath, "db", s.DBPath, "SQLite audit database path (empty disables)")
	fs.StringVar(&s.RecordingDir, "record", s.RecordingDir, "Directory for asciicast recordings (empty disables)")
	fs.BoolVar(&s.Reconnect, "reconnect", s.Reconnect, "Re-dial after stream errors")
	fs.BoolVar(&s.FilterIAC, "filter-iac", s.FilterIAC, "Strip telnet commands before sending to browsers")
	fs.StringVar(&s.SSHJump, "ssh-jump", s.SSHJump, "Reach hosts through an SSH jump host user@host[:port]")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level: debug, info, warn or error")
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects inconsistent settings.
func (s *Settings) Validate() error {
	if _, err := session.ParseMode(s.Mode); err != nil {
		return err
	}

	switch s.HistoryBackend {
	case "file":
		if s.DataDir == "" {
			return fmt.Errorf("data dir is required for the file history backend")
		}
	case "memory":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("redis addr is required for the redis history backend")
		}
	default:
		return fmt.Errorf("unknown history backend %q", s.HistoryBackend)
	}

	if s.HistoryReplayBytes < 0 {
		return fmt.Errorf("history replay bytes must not be negative")
	}
	if s.HistoryMaxBytes < 0 {
		return fmt.Errorf("history max bytes must not be negative")
	}
	if s.HistoryMaxBytes > 0 && s.HistoryMaxBytes < int64(s.HistoryReplayBytes) {
		return fmt.Errorf("history max bytes (%d) is smaller than replay bytes (%d)", s.HistoryMaxBytes, s.HistoryReplayBytes)
	}
	if s.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive")
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative")
	}
	if s.JanitorInterval <= 0 {
		return fmt.Errorf("janitor interval must be positive")
	}

	if s.SSHJump != "" {
		if _, _, _, err := transport.ParseJumpSpec(s.SSHJump); err != nil {
			return err
		}
		if s.SSHKeyPath == "" {
			return fmt.Errorf("ssh key path is required with an ssh jump host")
		}
		if s.SSHKnownHosts == "" && !s.SSHInsecure {
			return fmt.Errorf("ssh known_hosts is required unless ssh insecure mode is enabled")
		}
	}

	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", s.LogFormat)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// NewLogger builds the process logger described by the settings.
func (s *Settings) NewLogger() *slog.Logger {
	level, _ := ParseLevel(s.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
