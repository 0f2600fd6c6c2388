package record

import "fmt"

// State is the custody state carried by a record.
type State uint8

const (
	StateUnknown State = iota
	StateInitial
	StateCheckedIn
	StateCheckedOut
	StateDisposed
	StateDestroyed
	StateReleased
)

var stateTags = [...]string{
	StateUnknown:    "",
	StateInitial:    "INITIAL",
	StateCheckedIn:  "CHECKEDIN",
	StateCheckedOut: "CHECKEDOUT",
	StateDisposed:   "DISPOSED",
	StateDestroyed:  "DESTROYED",
	StateReleased:   "RELEASED",
}

// RemovalStates are the terminal states accepted by a remove operation.
var RemovalStates = []State{StateDisposed, StateDestroyed, StateReleased}

// ParseState converts an on-disk or user supplied tag to a State.
func ParseState(tag string) (State, error) {
	for s, t := range stateTags {
		if s != int(StateUnknown) && t == tag {
			return State(s), nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown state %q", tag)
}

// String returns the tag written to the ledger.
func (s State) String() string {
	if int(s) < len(stateTags) && s != StateUnknown {
		return stateTags[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s > StateUnknown && int(s) < len(stateTags)
}

// IsTerminal reports whether no further record may follow s for an item.
func (s State) IsTerminal() bool {
	switch s {
	case StateDisposed, StateDestroyed, StateReleased:
		return true
	case StateUnknown, StateInitial, StateCheckedIn, StateCheckedOut:
		return false
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
