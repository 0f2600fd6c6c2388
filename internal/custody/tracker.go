// Package custody derives per-item custody state from ledger records and
// enforces the transition rules between states.
package custody

import (
	"fmt"

	"github.com/jmerrifield20/custodyledger/internal/record"
)

// Kind classifies a chain policy violation.
type Kind int

const (
	NoParent Kind = iota + 1
	DuplicateParent
	AddNotFirst
	DoubleCheckout
	DoubleCheckin
	ImproperRemoval
	ReleasedEmptyData
	BadGenesis
)

var kindNames = map[Kind]string{
	NoParent:          "NO PARENT",
	DuplicateParent:   "DUPLICATE PARENT",
	AddNotFirst:       "ADD NOT FIRST",
	DoubleCheckout:    "DOUBLE CHECKOUT",
	DoubleCheckin:     "DOUBLE CHECKIN",
	ImproperRemoval:   "IMPROPER REMOVAL",
	ReleasedEmptyData: "RELEASED EMPTY DATA",
	BadGenesis:        "INVALID GENESIS",
}

// String returns the status label reported by verification.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Violation is a record that breaks a chain policy. It is returned as an
// error by callers that fail fast.
type Violation struct {
	Kind   Kind          `json:"kind"`
	Index  int           `json:"index"`
	ItemID uint32        `json:"item_id"`
	State  record.State  `json:"state"`
	Hash   record.Digest `json:"hash"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: item %d record %d (%s) hash %s", v.Kind, v.ItemID, v.Index, v.State, v.Hash)
}

// Tracker holds the last accepted state of every item it has seen.
// It is not safe for concurrent use.
type Tracker struct {
	states  map[uint32]record.State
	applied int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[uint32]record.State)}
}

// Apply checks r against the item's last accepted state. A record that
// violates a rule is reported and does not change the item's state.
// Records are numbered in the order they are applied, starting at 0.
func (t *Tracker) Apply(r *record.Record) *Violation {
	index := t.applied
	k := t.Check(r)
	t.applied++

	if k != 0 {
		return &Violation{Kind: k, Index: index, ItemID: r.ItemID, State: r.State, Hash: r.Hash()}
	}
	if r.State != record.StateInitial {
		t.states[r.ItemID] = r.State
	}
	return nil
}

// Check returns the kind of violation applying r would cause, or 0 if r
// would be accepted. It does not change the tracker.
func (t *Tracker) Check(r *record.Record) Kind {
	if r.State == record.StateInitial {
		if t.applied == 0 {
			return 0
		}
		return BadGenesis
	}

	last, seen := t.states[r.ItemID]
	switch {
	case seen && last.IsTerminal():
		return ImproperRemoval
	case !seen && r.State != record.StateCheckedIn:
		return AddNotFirst
	case last == record.StateCheckedOut && r.State == record.StateCheckedOut:
		return DoubleCheckout
	case last == record.StateCheckedIn && r.State == record.StateCheckedIn:
		return DoubleCheckin
	case r.State == record.StateReleased && r.Data == "":
		return ReleasedEmptyData
	}
	return 0
}

// State returns the last accepted state of item.
func (t *Tracker) State(item uint32) (record.State, bool) {
	s, ok := t.states[item]
	return s, ok
}

// States returns a copy of every item's last accepted state.
func (t *Tracker) States() map[uint32]record.State {
	out := make(map[uint32]record.State, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}

// Applied is the number of records passed to Apply.
func (t *Tracker) Applied() int {
	return t.applied
}

// Replay applies records in order and collects every violation. It never
// stops early; callers decide whether the first violation is fatal.
func Replay(records []*record.Record) (map[uint32]record.State, []*Violation) {
	t := NewTracker()
	var violations []*Violation
	for _, r := range records {
		if v := t.Apply(r); v != nil {
			violations = append(violations, v)
		}
	}
	return t.States(), violations
}
