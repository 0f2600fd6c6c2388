package custody

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"go.uber.org/zap"
)

// ErrItemNotFound is returned for an item id that has no records.
var ErrItemNotFound = errors.New("item not found")

// Item is the current custody view of one evidence item.
type Item struct {
	ID       uint32        `json:"item_id"`
	CaseID   uuid.UUID     `json:"case_id"`
	State    record.State  `json:"state"`
	Creator  string        `json:"creator"`
	Owner    string        `json:"owner"`
	Updated  time.Time     `json:"updated"`
	LastHash record.Digest `json:"last_hash"`
	Records  int           `json:"records"`
}

// Index is an in-memory projection of a ledger: per-item state, per-case
// membership and per-item history. Refresh brings it up to date, reading
// only the records appended since the previous call when the file grew.
type Index struct {
	ledger *ledger.Ledger
	logger *zap.Logger

	mu         sync.RWMutex
	version    ledger.Version
	offset     int64
	count      int
	tracker    *Tracker
	items      map[uint32]*Item
	cases      map[uuid.UUID][]uint32
	history    map[uint32][]*record.Record
	violations []*Violation
	tip        record.Digest
}

// NewIndex returns an empty index over l. Call Refresh before querying.
func NewIndex(l *ledger.Ledger, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{ledger: l, logger: logger}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.version = ledger.Version{}
	idx.offset = 0
	idx.count = 0
	idx.tracker = NewTracker()
	idx.items = make(map[uint32]*Item)
	idx.cases = make(map[uuid.UUID][]uint32)
	idx.history = make(map[uint32][]*record.Record)
	idx.violations = nil
	idx.tip = record.Digest{}
}

// Refresh reads records the index has not seen yet. It is a no-op when the
// ledger file is unchanged. A file that shrank or was rewritten in place is
// re-read from the start.
func (idx *Index) Refresh(ctx context.Context) error {
	v, err := idx.ledger.Stat()
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if v == idx.version {
		return nil
	}

	var sc *ledger.Scanner
	if idx.count > 0 && v.Size > idx.version.Size {
		sc = idx.ledger.ScanFrom(ctx, idx.offset, idx.count)
	} else {
		idx.reset()
		sc = idx.ledger.Scan(ctx)
	}
	defer sc.Close()

	added := 0
	for sc.Next() {
		idx.add(sc.Record())
		added++
	}
	if err := sc.Err(); err != nil {
		idx.reset()
		return err
	}

	idx.offset = sc.Offset()
	idx.count = sc.Index()
	idx.version = v

	idx.logger.Debug("custody index refreshed",
		zap.Int("records", idx.count),
		zap.Int("added", added),
		zap.Int("items", len(idx.items)),
		zap.Int("violations", len(idx.violations)),
	)
	return nil
}

func (idx *Index) add(r *record.Record) {
	idx.tip = r.Hash()

	violation := idx.tracker.Apply(r)
	if violation != nil {
		idx.violations = append(idx.violations, violation)
	}
	if r.State == record.StateInitial {
		return
	}

	idx.history[r.ItemID] = append(idx.history[r.ItemID], r)

	it, ok := idx.items[r.ItemID]
	if !ok {
		it = &Item{ID: r.ItemID, CaseID: r.CaseID}
		idx.items[r.ItemID] = it
		idx.cases[r.CaseID] = append(idx.cases[r.CaseID], r.ItemID)
	}
	it.Records++
	if violation != nil {
		return
	}
	it.State = r.State
	it.Creator = r.Creator
	it.Owner = r.Owner
	it.Updated = r.Time()
	it.LastHash = r.Hash()
}

// Len is the number of records indexed, genesis included.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.count
}

// Tip is the hash of the last indexed record.
func (idx *Index) Tip() record.Digest {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tip
}

// Item returns the current view of one item.
func (idx *Index) Item(id uint32) (Item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	it, ok := idx.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return *it, nil
}

// Items returns every item ordered by id.
func (idx *Index) Items() []Item {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Item, 0, len(idx.items))
	for _, it := range idx.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cases returns every case id in the order its first item was added.
func (idx *Index) Cases() []uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(idx.cases))
	for id := range idx.cases {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return idx.history[idx.cases[out[i]][0]][0].Offset < idx.history[idx.cases[out[j]][0]][0].Offset
	})
	return out
}

// Case returns the items added under a case, in the order they were added.
func (idx *Index) Case(id uuid.UUID) []Item {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := idx.cases[id]
	out := make([]Item, 0, len(ids))
	for _, item := range ids {
		out = append(out, *idx.items[item])
	}
	return out
}

// History returns every record for an item, oldest first.
func (idx *Index) History(id uint32) ([]*record.Record, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	h, ok := idx.history[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return append([]*record.Record(nil), h...), nil
}

// Violations returns every policy violation seen so far.
func (idx *Index) Violations() []*Violation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]*Violation(nil), idx.violations...)
}

// Check reports the violation that appending r would cause given the
// indexed history, or 0 if the ledger would accept it cleanly.
func (idx *Index) Check(r *record.Record) Kind {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tracker.Check(r)
}
