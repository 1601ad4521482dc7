package telnet

// Telnet command bytes.
const (
	IAC  = 0xFF // Interpret As Command
	DONT = 0xFE
	DO   = 0xFD
	WONT = 0xFC
	WILL = 0xFB
	SB   = 0xFA // Subnegotiation Begin
	SE   = 0xF0 // Subnegotiation End
)

type filterState int

const (
	stateData filterState = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

// Filter strips telnet command sequences from a byte stream. It never
// answers a negotiation; it only removes what a terminal emulator should
// not render. Sequences split across chunks are carried over to the next
// call. A Filter is not safe for concurrent use.
type Filter struct {
	state filterState
}

// NewFilter returns a filter in its initial state.
func NewFilter() *Filter {
	return &Filter{}
}

// Process returns data with command sequences removed. IAC IAC is
// unescaped to a literal 0xFF.
func (f *Filter) Process(data []byte) []byte {
	out := make([]byte, 0, len(data))

	for _, b := range data {
		switch f.state {
		case stateData:
			if b == IAC {
				f.state = stateIAC
				continue
			}
			out = append(out, b)

		case stateIAC:
			switch b {
			case IAC:
				out = append(out, IAC)
				f.state = stateData
			case DONT, DO, WONT, WILL:
				// Three-byte command: the option byte follows.
				f.state = stateOption
			case SB:
				f.state = stateSub
			default:
				f.state = stateData
			}

		case stateOption:
			f.state = stateData

		case stateSub:
			if b == IAC {
				f.state = stateSubIAC
			}

		case stateSubIAC:
			switch b {
			case SE:
				f.state = stateData
			default:
				f.state = stateSub
			}
		}
	}

	return out
}

// Reset discards any partially read sequence.
func (f *Filter) Reset() {
	f.state = stateData
}
