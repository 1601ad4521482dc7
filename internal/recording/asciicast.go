// Package recording writes telnet sessions as asciicast v2 files that can
// be replayed with asciinema.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Default terminal geometry written to the header. The browser terminal
// does not report its size to the bridge.
const (
	DefaultWidth  = 80
	DefaultHeight = 24
)

// Event types.
const (
	EventOutput = "o"
	EventInput  = "i"
)

// Header is the first line of an asciicast v2 file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one line after the header: [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(arr))
	}

	var ok bool
	if e.Time, ok = arr[0].(float64); !ok {
		return fmt.Errorf("invalid event time")
	}
	if e.Type, ok = arr[1].(string); !ok {
		return fmt.Errorf("invalid event type")
	}
	if e.Data, ok = arr[2].(string); !ok {
		return fmt.Errorf("invalid event data")
	}
	return nil
}

// Recorder appends events to an asciicast stream. It is safe for
// concurrent use; writes after Close are ignored.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	start  time.Time
	closed bool
}

// Create opens <dir>/<name>.cast and writes the header.
func Create(dir, name, title string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, name+".cast"))
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &Recorder{w: file, file: file, start: time.Now()}
	if err := r.writeHeader(title); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// New returns a recorder writing to w and writes the header.
func New(w io.Writer, title string) (*Recorder, error) {
	r := &Recorder{w: w, start: time.Now()}
	if err := r.writeHeader(title); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the file being written, or "" for a writer-backed recorder.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

func (r *Recorder) writeHeader(title string) error {
	header := Header{
		Version:   2,
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Output records bytes received from the remote host.
func (r *Recorder) Output(data []byte) error {
	return r.write(EventOutput, data)
}

// Input records bytes sent to the remote host.
func (r *Recorder) Input(data []byte) error {
	return r.write(EventInput, data)
}

func (r *Recorder) write(eventType string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Time: time.Since(r.start).Seconds(),
		Type: eventType,
		Data: string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
