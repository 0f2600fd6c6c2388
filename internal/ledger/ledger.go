// Package ledger stores custody records in a single append-only file.
//
// The file is a plain concatenation of records (see package record) with no
// file-level header. Record 0 is the genesis record; every later record
// carries the SHA-256 of its predecessor's raw bytes, so altering any byte
// breaks the link to the following record.
//
// Appends are atomic: the current contents plus the new record are written
// to a staging file next to the ledger, synced, and renamed over it. A
// failed append leaves the ledger byte-for-byte unchanged. Writers are
// serialised by an in-process mutex and an advisory lock file; readers take
// no locks and tolerate a torn trailing record left by foreign writers.
// Existing bytes are never dropped: Append refuses to write while a torn
// trailing record is present.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/facebookgo/atomicfile"
	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"go.uber.org/zap"
)

// GenesisData is the payload of the genesis record.
const GenesisData = "Initial block"

const defaultLockTimeout = 5 * time.Second

// Event is the caller-supplied part of a new record. The ledger fills in the
// previous hash and the timestamp.
type Event struct {
	CaseID  uuid.UUID
	ItemID  uint32
	State   record.State
	Creator string
	Owner   string
	Data    string
}

// Version identifies one revision of the ledger file. Any append or outside
// modification changes it.
type Version struct {
	Size    int64
	ModTime time.Time
}

// tip caches what Append needs to know about the end of the chain.
type tip struct {
	version Version
	end     int64 // offset just past the last complete record
	count   int
	last    *record.Record
	torn    *TruncatedRecordError // set when bytes follow end
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLockTimeout bounds how long a writer waits for the lock file.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

// Ledger is a handle on one ledger file.
type Ledger struct {
	path        string
	logger      *zap.Logger
	now         func() time.Time
	lockTimeout time.Duration

	writeMu sync.Mutex // held for the whole of Initialize/Append

	mu    sync.Mutex // guards cache
	cache *tip
}

// New returns a handle for the ledger at path. The file is not touched
// until the first operation.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:        path,
		logger:      zap.NewNop(),
		now:         time.Now,
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Stat returns the current version of the file.
func (l *Ledger) Stat() (Version, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Version{}, ErrNotInitialized
		}
		return Version{}, fmt.Errorf("stat ledger: %w", err)
	}
	return Version{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Initialize writes the genesis record if the file is missing or empty.
// If the file already holds a chain it returns ErrAlreadyInitialized when
// record 0 is the only INITIAL record, and ErrCorruptChain otherwise.
func (l *Ledger) Initialize(ctx context.Context) (*record.Record, error) {
	release, err := l.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := l.Stat()
	switch {
	case errors.Is(err, ErrNotInitialized):
	case err != nil:
		return nil, err
	case v.Size > 0:
		return nil, l.checkGenesis(ctx)
	}

	genesis := &record.Record{
		Timestamp: record.Timestamp(l.now().UTC()),
		State:     record.StateInitial,
		Data:      GenesisData,
	}
	raw, err := genesis.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode genesis: %w", err)
	}
	if err := l.commit(ctx, 0, raw); err != nil {
		return nil, err
	}
	l.remember(genesis, 0, 1)

	l.logger.Info("ledger initialized",
		zap.String("path", l.path),
		zap.Stringer("genesis", genesis.Hash()),
	)
	return genesis, nil
}

// checkGenesis classifies an existing, non-empty file for Initialize.
func (l *Ledger) checkGenesis(ctx context.Context) error {
	sc := l.Scan(ctx)
	defer sc.Close()

	initial := 0
	for sc.Next() {
		r := sc.Record()
		if r.State != record.StateInitial {
			continue
		}
		initial++
		if sc.Index() == 1 && !r.PreviousHash.IsZero() {
			return fmt.Errorf("%w: genesis record has a non-zero parent", ErrCorruptChain)
		}
		if sc.Index() > 1 {
			return fmt.Errorf("%w: INITIAL record at index %d", ErrCorruptChain, sc.Index()-1)
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCorruptChain, err)
	}
	if sc.Index() == 0 || initial == 0 {
		return fmt.Errorf("%w: first record is not INITIAL", ErrCorruptChain)
	}
	return ErrAlreadyInitialized
}

// Append chains a new record onto the ledger and returns it.
func (l *Ledger) Append(ctx context.Context, ev Event) (*record.Record, error) {
	if ev.State == record.StateInitial || !ev.State.Valid() {
		return nil, fmt.Errorf("%w: state %v", ErrInvalidEvent, ev.State)
	}

	release, err := l.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := l.refresh(ctx)
	if err != nil {
		return nil, err
	}

	rec := &record.Record{
		PreviousHash: t.last.Hash(),
		Timestamp:    record.Timestamp(l.now().UTC()),
		CaseID:       ev.CaseID,
		ItemID:       ev.ItemID,
		State:        ev.State,
		Creator:      ev.Creator,
		Owner:        ev.Owner,
		Data:         ev.Data,
	}
	raw, err := rec.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if t.torn != nil || t.version.Size != t.end {
		l.logger.Warn("refusing append over incomplete trailing record",
			zap.String("path", l.path),
			zap.Int64("offset", t.end),
			zap.Int64("bytes", t.version.Size-t.end),
		)
		if t.torn != nil {
			return nil, fmt.Errorf("%w: %w", ErrTrailingData, t.torn)
		}
		return nil, fmt.Errorf("%w: %d bytes after offset %d", ErrTrailingData, t.version.Size-t.end, t.end)
	}
	if err := l.commit(ctx, t.end, raw); err != nil {
		return nil, err
	}
	rec.Offset = t.end
	l.remember(rec, t.end, t.count+1)

	l.logger.Debug("ledger record appended",
		zap.Int("index", t.count),
		zap.Uint32("item_id", rec.ItemID),
		zap.Stringer("state", rec.State),
		zap.Stringer("hash", rec.Hash()),
	)
	return rec, nil
}

// commit replaces the ledger with its current keep bytes followed by raw.
// keep must be the whole file; a file of any other size fails the commit.
// Nothing is visible at the ledger path until the staged file is renamed.
func (l *Ledger) commit(ctx context.Context, keep int64, raw []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(l.path); err == nil {
		mode = fi.Mode().Perm()
	}

	staged, err := atomicfile.New(l.path, mode)
	if err != nil {
		return &WriteError{Op: "stage", Path: l.path, Err: err}
	}

	fail := func(op string, err error) error {
		if abortErr := staged.Abort(); abortErr != nil {
			l.logger.Warn("abort staged ledger", zap.String("path", staged.Name()), zap.Error(abortErr))
		}
		return &WriteError{Op: op, Path: l.path, Err: err}
	}

	if keep > 0 {
		if err := copyLedger(staged, l.path, keep); err != nil {
			return fail("copy", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail("append", err)
	}
	if _, err := staged.Write(raw); err != nil {
		return fail("append", err)
	}
	if err := staged.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := staged.Close(); err != nil {
		return &WriteError{Op: "rename", Path: l.path, Err: err}
	}
	l.syncDir(filepath.Dir(l.path))
	return nil
}

// copyLedger copies exactly size bytes of the ledger at path into w.
func copyLedger(w io.Writer, path string, size int64) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != size {
		return fmt.Errorf("ledger is %d bytes, expected %d: modified by a writer not holding the lock", fi.Size(), size)
	}
	_, err = io.CopyN(w, src, size)
	return err
}

// syncDir makes a rename durable on file systems that need it. The rename
// has already happened, so failures are only logged.
func (l *Ledger) syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		l.logger.Warn("open ledger directory for sync", zap.String("dir", dir), zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		l.logger.Warn("sync ledger directory", zap.String("dir", dir), zap.Error(err))
	}
}

// Scan starts a sequential read from the beginning of the file.
func (l *Ledger) Scan(ctx context.Context) *Scanner {
	return newScanner(ctx, l.path, 0, 0)
}

// ScanFrom resumes a read at a record boundary previously reported by
// Scanner.Offset. index is the number of records before offset.
func (l *Ledger) ScanFrom(ctx context.Context, offset int64, index int) *Scanner {
	return newScanner(ctx, l.path, offset, index)
}

// ReadAll returns every complete record in order.
func (l *Ledger) ReadAll(ctx context.Context) ([]*record.Record, error) {
	sc := l.Scan(ctx)
	defer sc.Close()

	var records []*record.Record
	for sc.Next() {
		records = append(records, sc.Record())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Latest returns the most recent record, or nil when only the genesis
// record exists.
func (l *Ledger) Latest(ctx context.Context) (*record.Record, error) {
	t, err := l.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if t.count <= 1 {
		return nil, nil
	}
	return t.last, nil
}

// Root returns the tip hash: the digest of the most recent record.
func (l *Ledger) Root(ctx context.Context) (record.Digest, error) {
	t, err := l.refresh(ctx)
	if err != nil {
		return record.Digest{}, err
	}
	return t.last.Hash(), nil
}

// Len returns the number of complete records, genesis included.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	t, err := l.refresh(ctx)
	if err != nil {
		return 0, err
	}
	return t.count, nil
}

// refresh returns the cached tip, rescanning when the file changed. Growth
// is scanned incrementally from the cached end; anything else is a full
// rescan.
func (l *Ledger) refresh(ctx context.Context) (*tip, error) {
	v, err := l.Stat()
	if err != nil {
		return nil, err
	}
	if v.Size == 0 {
		return nil, ErrNotInitialized
	}

	l.mu.Lock()
	cached := l.cache
	l.mu.Unlock()
	if cached != nil && cached.version == v {
		return cached, nil
	}

	var sc *Scanner
	t := &tip{}
	if cached != nil && v.Size > cached.version.Size {
		sc = l.ScanFrom(ctx, cached.end, cached.count)
		*t = *cached
	} else {
		sc = l.Scan(ctx)
	}
	defer sc.Close()

	for sc.Next() {
		t.last = sc.Record()
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger tip: %w", err)
	}
	if t.last == nil {
		return nil, ErrNotInitialized
	}
	t.end = sc.Offset()
	t.count = sc.Index()
	t.torn = sc.Truncated()
	t.version = v

	l.mu.Lock()
	l.cache = t
	l.mu.Unlock()
	return t, nil
}

// remember records the new tip after a successful write.
func (l *Ledger) remember(last *record.Record, offset int64, count int) {
	v, err := l.Stat()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.cache = nil
		return
	}
	l.cache = &tip{
		version: v,
		end:     offset + last.Size(),
		count:   count,
		last:    last,
	}
}
