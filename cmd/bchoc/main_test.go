package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"github.com/jmerrifield20/custodyledger/internal/verify"
	"github.com/spf13/pflag"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	// Slice flags append across executions of the same command tree.
	if f := addCmd.Flags().Lookup("item"); f != nil {
		_ = f.Value.(pflag.SliceValue).Replace(nil)
	}
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestCLI_lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.ledger")
	const caseID = "65cc391d-6568-4dcc-a3f1-86a2f04140f3"

	steps := [][]string{
		{"init", "-f", path},
		{"add", "-f", path, "-c", caseID, "-i", "42", "-i", "43", "-g", "alvarez", "-o", "POLICE", "-d", "collected"},
		{"checkout", "-f", path, "-i", "42", "-o", "LAB", "-d", "to lab"},
		{"checkin", "-f", path, "-i", "42", "-o", "", "-d", "back"},
		{"remove", "-f", path, "-i", "43", "-y", "released", "-o", "OWNER", "-d", "returned to owner"},
		{"show", "history", "-f", path, "-i", "42", "-r", "-n", "2"},
		{"verify", "-f", path},
	}
	for _, args := range steps {
		if err := execute(t, args...); err != nil {
			t.Fatalf("bchoc %v: %v", args, err)
		}
	}

	l := ledger.New(path)
	rep, err := verify.Verify(context.Background(), l)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Valid() || rep.BlocksChecked != 6 {
		t.Fatalf("got %s after %d blocks", rep.Status, rep.BlocksChecked)
	}

	idx := custody.NewIndex(l, nil)
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	it, _ := idx.Item(42)
	if it.State != record.StateCheckedIn || it.Owner != "LAB" || it.Creator != "alvarez" {
		t.Errorf("item 42: got %+v", it)
	}
	it, _ = idx.Item(43)
	if it.State != record.StateReleased || it.Owner != "OWNER" {
		t.Errorf("item 43: got %+v", it)
	}
}

func TestCLI_refusesViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.ledger")
	const caseID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"

	if err := execute(t, "add", "-f", path, "-c", caseID, "-i", "7", "-g", "kim"); err != nil {
		t.Fatal(err)
	}

	refused := [][]string{
		{"add", "-f", path, "-c", caseID, "-i", "7", "-g", "kim"},
		{"checkin", "-f", path, "-i", "7", "-o", "", "-d", ""},
		{"checkout", "-f", path, "-i", "99", "-o", "", "-d", ""},
		{"remove", "-f", path, "-i", "7", "-y", "RELEASED", "-o", "", "-d", ""},
		{"remove", "-f", path, "-i", "7", "-y", "CHECKEDOUT", "-o", "", "-d", ""},
	}
	for _, args := range refused {
		if err := execute(t, args...); err == nil {
			t.Errorf("bchoc %v: expected an error", args)
		}
	}

	n, err := ledger.New(path).Len(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("refused commands wrote to the ledger: %d records", n)
	}
}

func TestCLI_verifyFailsOnViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.ledger")
	l := ledger.New(path)
	ctx := context.Background()
	if _, err := l.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, ledger.Event{ItemID: 1, State: record.StateCheckedOut}); err != nil {
		t.Fatal(err)
	}

	err := execute(t, "verify", "-f", path, "--format", "json")
	if !errors.Is(err, errChainInvalid) {
		t.Fatalf("expected errChainInvalid, got %v", err)
	}
	verifyFormat = "text"
}
