package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jmerrifield20/custodyledger/internal/record"
)

// Scanner reads records sequentially from a ledger file. Use it like
// database rows:
//
//	sc := l.Scan(ctx)
//	defer sc.Close()
//	for sc.Next() {
//		r := sc.Record()
//	}
//	if err := sc.Err(); err != nil { ... }
//
// A scan is finite and does not observe records appended after it reached
// the end of the file. Start a new scan to see them.
type Scanner struct {
	ctx    context.Context
	f      *os.File
	r      *bufio.Reader
	offset int64
	index  int
	rec    *record.Record
	torn   *TruncatedRecordError
	err    error
	done   bool
}

func newScanner(ctx context.Context, path string, offset int64, index int) *Scanner {
	s := &Scanner{ctx: ctx, offset: offset, index: index}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrNotInitialized
		}
		s.err = fmt.Errorf("open ledger: %w", err)
		s.done = true
		return s
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			s.err = fmt.Errorf("seek ledger to %d: %w", offset, err)
			s.done = true
			return s
		}
	}
	s.f = f
	s.r = bufio.NewReaderSize(f, 64<<10)
	return s
}

// Next advances to the next complete record. It returns false at the end of
// the file, at a torn trailing record, on cancellation or on error.
//
// A trailing record counts as torn only if its bytes could be the start of
// a record written by Encode. A partial header with bad padding or state, or
// a partial payload holding NUL bytes (which only headers contain), is
// reported as corruption: it means a damaged length field has swallowed
// later records.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		return s.fail(err)
	}

	buf := make([]byte, record.HeaderSize)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		return s.finish()
	case errors.Is(err, io.ErrUnexpectedEOF):
		if err := record.CheckHeaderPrefix(buf[:n]); err != nil {
			return s.fail(s.corrupt(err))
		}
		s.torn = &TruncatedRecordError{Offset: s.offset, Have: n, Want: record.HeaderSize}
		return s.finish()
	case err != nil:
		return s.fail(fmt.Errorf("read header at offset %d: %w", s.offset, err))
	}

	h, err := record.DecodeHeader(buf)
	if err != nil {
		return s.fail(s.corrupt(err))
	}

	size := record.HeaderSize + int(h.DataLength)
	buf = append(buf, make([]byte, h.DataLength)...)
	n, err = io.ReadFull(s.r, buf[record.HeaderSize:])
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if err := record.CheckPayloadPrefix(buf[record.HeaderSize : record.HeaderSize+n]); err != nil {
			return s.fail(s.corrupt(err))
		}
		s.torn = &TruncatedRecordError{Offset: s.offset, Have: record.HeaderSize + n, Want: size}
		return s.finish()
	case err != nil:
		return s.fail(fmt.Errorf("read payload at offset %d: %w", s.offset, err))
	}

	rec, err := record.Decode(buf)
	if err != nil {
		return s.fail(s.corrupt(err))
	}
	rec.Offset = s.offset

	s.rec = rec
	s.offset += int64(size)
	s.index++
	return true
}

// Record returns the record read by the last successful Next.
func (s *Scanner) Record() *record.Record {
	return s.rec
}

// Index is the number of complete records read so far, counting from the
// position the scan started at.
func (s *Scanner) Index() int {
	return s.index
}

// Offset is the file position just past the last complete record.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Truncated returns the torn trailing record that ended the scan, if any.
func (s *Scanner) Truncated() *TruncatedRecordError {
	return s.torn
}

// Err returns the first error that stopped the scan. A torn trailing record
// is not an error.
func (s *Scanner) Err() error {
	return s.err
}

// Close releases the underlying file. It is safe to call more than once.
func (s *Scanner) Close() error {
	s.done = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *Scanner) corrupt(err error) error {
	var ce *record.CorruptRecordError
	if errors.As(err, &ce) {
		ce.Offset = s.offset
		return ce
	}
	return err
}

func (s *Scanner) finish() bool {
	s.rec = nil
	s.Close()
	return false
}

func (s *Scanner) fail(err error) bool {
	s.err = err
	return s.finish()
}
