package keys

import (
	"bytes"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTranslator_KeyDown(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want []byte
	}{
		{"tab", Tab, []byte{0x1B, 0x5B, 0x09}},
		{"backspace", Backspace, []byte{0x1B, 0x5B, 0x7F}},
		{"enter", Enter, []byte{0x0D}},
		{"up", Up, []byte{0x1B, 0x5B, 0x41}},
		{"down", Down, []byte{0x1B, 0x5B, 0x42}},
		{"left", Left, nil},
		{"right", Right, nil},
		{"letter without modifier", C, nil},
		{"unmapped control char", Code(0x1B), nil},
		{"negative code", Code(-1), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTranslator().KeyDown(tt.code)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("KeyDown(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestTranslator_ControlC(t *testing.T) {
	tr := NewTranslator()

	if got := tr.KeyDown(Control); got != nil {
		t.Errorf("KeyDown(Control) = %v, want nil", got)
	}
	if !tr.Chorded() {
		t.Fatal("expected chord to be armed")
	}
	if got := tr.KeyDown(C); !bytes.Equal(got, []byte{0x03}) {
		t.Errorf("Control+C = %v, want [3]", got)
	}
	if tr.Chorded() {
		t.Error("chord should be consumed by the dispatched key")
	}
}

func TestTranslator_KeyUpClearsChord(t *testing.T) {
	tr := NewTranslator()

	tr.KeyDown(Control)
	tr.KeyUp(Control)

	if got := tr.KeyDown(C); got != nil {
		t.Errorf("C after modifier release = %v, want nil", got)
	}
}

func TestTranslator_KeyUpAnyCodeClearsChord(t *testing.T) {
	tr := NewTranslator()

	tr.KeyDown(Control)
	tr.KeyUp(Code('x'))

	if tr.Chorded() {
		t.Error("key-up should clear the chord for any code")
	}
}

func TestTranslator_ChordedUnmappedKeyIgnored(t *testing.T) {
	tr := NewTranslator()

	tr.KeyDown(Control)
	if got := tr.KeyDown(Code('Z')); got != nil {
		t.Errorf("Control+Z = %v, want nil", got)
	}
}

func TestTranslator_ChordedNavigationKey(t *testing.T) {
	tr := NewTranslator()

	tr.KeyDown(Control)
	if got := tr.KeyDown(Up); !bytes.Equal(got, []byte{0x1B, 0x5B, 0x41}) {
		t.Errorf("Control+Up = %v", got)
	}
}

func TestTranslator_KeyPress(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want []byte
	}{
		{"ascii letter", Code('a'), []byte("a")},
		{"space", Code(' '), []byte(" ")},
		{"upper C", C, []byte("C")},
		{"multi byte", Code('é'), []byte("é")},
		{"emoji", Code(0x1F600), []byte("\U0001F600")},
		{"percent is reserved left", Left, nil},
		{"ampersand is reserved up", Up, nil},
		{"apostrophe is reserved right", Right, nil},
		{"paren is reserved down", Down, nil},
		{"enter", Enter, nil},
		{"tab", Tab, nil},
		{"delete", Code(0x7F), nil},
		{"out of range", Code(utf8.MaxRune + 1), nil},
	}

	tr := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.KeyPress(tt.code)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("KeyPress(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestTranslator_KeyDownReturnsCopy(t *testing.T) {
	tr := NewTranslator()

	first := tr.KeyDown(Tab)
	first[0] = 'X'

	if got := tr.KeyDown(Tab); got[0] != 0x1B {
		t.Errorf("table entry was mutated: %v", got)
	}
}

func TestTranslator_IndependentClients(t *testing.T) {
	a, b := NewTranslator(), NewTranslator()

	a.KeyDown(Control)
	if got := b.KeyDown(C); got != nil {
		t.Errorf("chord leaked across translators: %v", got)
	}
	if got := a.KeyDown(C); !bytes.Equal(got, []byte{0x03}) {
		t.Errorf("Control+C = %v", got)
	}
}

func TestTranslator_Property_PrintableIsUTF8(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("key-press of a printable code emits exactly its UTF-8 encoding", prop.ForAll(
		func(r rune) bool {
			code := Code(r)
			got := NewTranslator().KeyPress(code)
			if !IsPrintable(code) {
				return got == nil
			}
			return bytes.Equal(got, []byte(string(r)))
		},
		gen.Rune(),
	))

	properties.Property("key-down without modifier never emits for printable codes", prop.ForAll(
		func(r rune) bool {
			code := Code(r)
			if !IsPrintable(code) {
				return true
			}
			return NewTranslator().KeyDown(code) == nil
		},
		gen.Rune(),
	))

	properties.TestingRun(t)
}
