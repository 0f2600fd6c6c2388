package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when the file already
	// starts with a valid genesis record. Callers usually treat it as success.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrCorruptChain is returned by Initialize when the file holds data that
	// does not start with exactly one genesis record.
	ErrCorruptChain = errors.New("ledger file is not a valid chain")

	// ErrNotInitialized is returned when the ledger file is missing or empty.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrInvalidEvent is returned by Append for events that can never be
	// written, such as a second INITIAL record.
	ErrInvalidEvent = errors.New("invalid ledger event")

	// ErrTrailingData is returned by Append when the file ends in an
	// incomplete record. Appending would either bury the partial bytes
	// inside the chain or discard them, so the ledger is left untouched
	// until an operator has examined it.
	ErrTrailingData = errors.New("ledger ends in an incomplete record")

	// ErrLocked is returned when the writer lock could not be acquired
	// within the configured timeout.
	ErrLocked = errors.New("ledger is locked by another writer")
)

// TruncatedRecordError describes a record cut short at the end of the file,
// typically by an interrupted or still running append. Readers treat the
// record as not yet written.
type TruncatedRecordError struct {
	Offset int64 // where the partial record starts
	Have   int   // bytes present
	Want   int   // bytes the record needs (header only if the header itself is short)
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("truncated record at offset %d: have %d of %d bytes", e.Offset, e.Have, e.Want)
}

// WriteError wraps an I/O failure during Initialize or Append. The ledger
// file is left as it was before the call.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
