// Package verify audits a whole ledger: record decoding, genesis shape, hash
// chain continuity, parent uniqueness and per-item custody policy.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
)

// Status is the outcome of a verification run.
type Status string

const (
	StatusValid          Status = "VALID"
	StatusCorrupt        Status = "CORRUPT"
	StatusInvalidGenesis Status = "INVALID GENESIS"
)

// Source is anything that can be scanned from the first record.
type Source interface {
	Scan(ctx context.Context) *ledger.Scanner
}

// Report is the result of Verify.
type Report struct {
	BlocksChecked int             `json:"blocks_checked"`
	Status        Status          `json:"status"`
	Evidence      []record.Digest `json:"evidence,omitempty"`

	// Offset is the file position of the record that failed to decode.
	Offset int64 `json:"offset,omitempty"`
	// Reason describes a decode failure.
	Reason string `json:"reason,omitempty"`
	// TrailingBytes counts bytes after the last complete record.
	TrailingBytes int `json:"trailing_bytes,omitempty"`
	// Tip is the hash of the last complete record.
	Tip record.Digest `json:"tip"`
	// Violations holds every policy violation, not only the first.
	Violations []*custody.Violation `json:"violations,omitempty"`
}

// Valid reports whether the ledger passed every check.
func (r *Report) Valid() bool {
	return r.Status == StatusValid
}

// Verify reads the whole ledger and reports the first problem found, in
// order of precedence: undecodable record, bad genesis, broken link,
// forked parent, custody policy violation. A torn trailing record is not
// a failure; it is counted in TrailingBytes. Trailing bytes that cannot be
// the start of a record, such as a payload running over later headers,
// are reported as CORRUPT.
//
// Errors are returned only when the ledger cannot be read at all or ctx
// is cancelled.
func Verify(ctx context.Context, src Source) (*Report, error) {
	sc := src.Scan(ctx)
	defer sc.Close()

	var records []*record.Record
	for sc.Next() {
		records = append(records, sc.Record())
	}

	rep := &Report{}
	if tr := sc.Truncated(); tr != nil {
		rep.TrailingBytes = tr.Have
	}

	if err := sc.Err(); err != nil {
		var corrupt *record.CorruptRecordError
		if !errors.As(err, &corrupt) {
			return nil, fmt.Errorf("verify: %w", err)
		}
		rep.Status = StatusCorrupt
		rep.BlocksChecked = len(records)
		rep.Offset = corrupt.Offset
		rep.Reason = corrupt.Reason
		if len(records) > 0 {
			rep.Tip = records[len(records)-1].Hash()
		}
		return rep, nil
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("verify: %w", ledger.ErrNotInitialized)
	}

	hashes := make([]record.Digest, len(records))
	for i, r := range records {
		hashes[i] = r.Hash()
	}
	rep.Tip = hashes[len(hashes)-1]

	fail := func(status Status, checked int, evidence ...record.Digest) (*Report, error) {
		rep.Status = status
		rep.BlocksChecked = checked
		rep.Evidence = evidence
		return rep, nil
	}

	if !records[0].IsGenesis() {
		return fail(StatusInvalidGenesis, 1, hashes[0])
	}

	for i := 1; i < len(records); i++ {
		if records[i].PreviousHash != hashes[i-1] {
			return fail(Status(custody.NoParent.String()), i+1, hashes[i])
		}
	}

	claimed := make(map[record.Digest]int, len(records))
	for i, r := range records {
		if first, dup := claimed[r.PreviousHash]; dup {
			return fail(Status(custody.DuplicateParent.String()), i+1, hashes[first], hashes[i])
		}
		claimed[r.PreviousHash] = i
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, violations := custody.Replay(records)
	if len(violations) > 0 {
		rep.Violations = violations
		first := violations[0]
		return fail(Status(first.Kind.String()), first.Index+1, first.Hash)
	}

	rep.Status = StatusValid
	rep.BlocksChecked = len(records)
	return rep, nil
}
