package custody_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"go.uber.org/zap"
)

var ctx = context.Background()

var (
	caseA = uuid.MustParse("65cc391d-6568-4dcc-a3f1-86a2f04140f3")
	caseB = uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(filepath.Join(t.TempDir(), "custody.ledger"))
	if _, err := l.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	return l
}

func mustAppend(t *testing.T, l *ledger.Ledger, c uuid.UUID, item uint32, state record.State, owner string) {
	t.Helper()
	if _, err := l.Append(ctx, ledger.Event{CaseID: c, ItemID: item, State: state, Creator: "alvarez", Owner: owner, Data: "note"}); err != nil {
		t.Fatal(err)
	}
}

func TestIndex_queries(t *testing.T) {
	l := newLedger(t)
	mustAppend(t, l, caseA, 10, record.StateCheckedIn, "POLICE")
	mustAppend(t, l, caseA, 11, record.StateCheckedIn, "POLICE")
	mustAppend(t, l, caseB, 20, record.StateCheckedIn, "POLICE")
	mustAppend(t, l, caseA, 10, record.StateCheckedOut, "LAB")

	idx := custody.NewIndex(l, zap.NewNop())
	if err := idx.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if idx.Len() != 5 {
		t.Errorf("Len(): got %d, want 5", idx.Len())
	}
	root, _ := l.Root(ctx)
	if idx.Tip() != root {
		t.Errorf("Tip(): got %s, want %s", idx.Tip(), root)
	}

	it, err := idx.Item(10)
	if err != nil {
		t.Fatal(err)
	}
	if it.State != record.StateCheckedOut || it.Owner != "LAB" || it.CaseID != caseA || it.Records != 2 {
		t.Errorf("item 10: got %+v", it)
	}

	if _, err := idx.Item(99); !errors.Is(err, custody.ErrItemNotFound) {
		t.Errorf("unknown item: expected ErrItemNotFound, got %v", err)
	}

	items := idx.Items()
	if len(items) != 3 || items[0].ID != 10 || items[2].ID != 20 {
		t.Errorf("Items(): got %+v", items)
	}

	cases := idx.Cases()
	if len(cases) != 2 || cases[0] != caseA || cases[1] != caseB {
		t.Errorf("Cases(): got %v", cases)
	}
	inA := idx.Case(caseA)
	if len(inA) != 2 || inA[0].ID != 10 || inA[1].ID != 11 {
		t.Errorf("Case(A): got %+v", inA)
	}

	h, err := idx.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 2 || h[0].State != record.StateCheckedIn || h[1].State != record.StateCheckedOut {
		t.Errorf("History(10): got %d records", len(h))
	}
}

func TestIndex_incrementalMatchesFullReplay(t *testing.T) {
	l := newLedger(t)
	idx := custody.NewIndex(l, nil)

	steps := []struct {
		item  uint32
		state record.State
	}{
		{1, record.StateCheckedIn},
		{1, record.StateCheckedOut},
		{2, record.StateCheckedOut}, // add not first
		{1, record.StateCheckedIn},
		{1, record.StateDestroyed},
		{1, record.StateCheckedIn}, // improper removal
	}
	for _, s := range steps {
		mustAppend(t, l, caseA, s.item, s.state, "LAB")
		if err := idx.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
	}

	records, err := l.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	states, violations := custody.Replay(records)

	got := idx.Violations()
	if len(got) != len(violations) {
		t.Fatalf("violations: incremental %d, full %d", len(got), len(violations))
	}
	for i := range got {
		if got[i].Kind != violations[i].Kind || got[i].Hash != violations[i].Hash {
			t.Errorf("violation %d differs: %v vs %v", i, got[i], violations[i])
		}
	}
	for id, s := range states {
		it, err := idx.Item(id)
		if err != nil {
			t.Fatal(err)
		}
		if it.State != s {
			t.Errorf("item %d: incremental %v, full %v", id, it.State, s)
		}
	}
	if idx.Len() != len(records) {
		t.Errorf("Len(): got %d, want %d", idx.Len(), len(records))
	}
}

func TestIndex_refreshSeesOtherWriters(t *testing.T) {
	l := newLedger(t)
	idx := custody.NewIndex(l, nil)
	if err := idx.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	other := ledger.New(l.Path())
	mustAppend(t, other, caseA, 5, record.StateCheckedIn, "POLICE")

	if err := idx.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Item(5); err != nil {
		t.Errorf("item appended by another handle not indexed: %v", err)
	}
}

func TestIndex_notInitialized(t *testing.T) {
	idx := custody.NewIndex(ledger.New(filepath.Join(t.TempDir(), "none.ledger")), nil)
	if err := idx.Refresh(ctx); !errors.Is(err, ledger.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
