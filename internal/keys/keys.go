// Package keys translates browser keyboard events into the bytes a
// telnet host expects.
//
// A browser reports three kinds of events per key: press (printable
// intent), down and up. Press events are forwarded as UTF-8 text. Down
// events are looked up in a fixed table of control sequences, and the
// Control modifier arms a chord so that the next down event (Control+C)
// is dispatched through the same table.
package keys

import (
	"sync"
	"unicode"
	"unicode/utf8"
)

// Code is a browser key code.
type Code int

const (
	Backspace Code = 8
	Tab       Code = 9
	Enter     Code = 13
	Control   Code = 17
	Left      Code = 37
	Up        Code = 38
	Right     Code = 39
	Down      Code = 40
	C         Code = 67
)

// ESC [
var escPrefix = [2]byte{0x1B, 0x5B}

func escape(payload byte) []byte {
	return []byte{escPrefix[0], escPrefix[1], payload}
}

// downTable maps key-down codes to the bytes sent to the host. Left and
// Right are reserved and send nothing.
var downTable = map[Code][]byte{
	Tab:       escape(0x09),
	Backspace: escape(0x7F),
	Enter:     {'\r'},
	Up:        escape(0x41),
	Down:      escape(0x42),
	Left:      nil,
	Right:     nil,
	C:         {0x03},
}

// reserved codes are never treated as printable and always take the
// key-down path.
func reserved(code Code) bool {
	switch code {
	case Left, Up, Right, Down, Enter:
		return true
	}
	return false
}

func valid(code Code) bool {
	return code >= 0 && code <= utf8.MaxRune
}

// IsPrintable reports whether a key-press with this code is sent as text.
func IsPrintable(code Code) bool {
	return valid(code) && !unicode.IsControl(rune(code)) && !reserved(code)
}

// isControlKey reports whether a key-down with this code is dispatched
// without a held modifier.
func isControlKey(code Code) bool {
	return code == Control || reserved(code) || (valid(code) && unicode.IsControl(rune(code)))
}

// Translator holds the modifier state of one client. It is safe for
// concurrent use.
type Translator struct {
	mu    sync.Mutex
	chord bool
}

// NewTranslator returns a translator with no modifier held.
func NewTranslator() *Translator {
	return &Translator{}
}

// KeyPress returns the UTF-8 encoding of a printable code, or nil.
func (t *Translator) KeyPress(code Code) []byte {
	if !IsPrintable(code) {
		return nil
	}
	return utf8.AppendRune(nil, rune(code))
}

// KeyDown returns the bytes for a key-down event, or nil when the key has
// no mapping or is not dispatched. A dispatched key consumes the chord;
// Control arms it again.
func (t *Translator) KeyDown(code Code) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.chord && !isControlKey(code) {
		return nil
	}
	t.chord = false

	if code == Control {
		t.chord = true
		return nil
	}

	seq, ok := downTable[code]
	if !ok || len(seq) == 0 {
		return nil
	}
	out := make([]byte, len(seq))
	copy(out, seq)
	return out
}

// KeyUp releases the modifier regardless of which key was released.
func (t *Translator) KeyUp(Code) {
	t.mu.Lock()
	t.chord = false
	t.mu.Unlock()
}

// Chorded reports whether the modifier is currently held.
func (t *Translator) Chorded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chord
}
