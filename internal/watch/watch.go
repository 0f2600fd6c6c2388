// Package watch re-audits a ledger whenever its file changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/verify"
	"go.uber.org/zap"
)

// Config holds watcher configuration.
type Config struct {
	// Debounce is how long the file must stay quiet before a check runs.
	Debounce time.Duration
}

// ReportFunc is an optional callback invoked with every verification report.
type ReportFunc func(rep *verify.Report, records int, bytes int64)

// Watcher refreshes a custody index and re-verifies the ledger after each
// burst of file system events on the ledger path.
type Watcher struct {
	ledger   *ledger.Ledger
	index    *custody.Index
	cfg      Config
	onReport ReportFunc
	logger   *zap.Logger
}

// New creates a new Watcher.
func New(l *ledger.Ledger, index *custody.Index, cfg Config, logger *zap.Logger) *Watcher {
	if cfg.Debounce == 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{ledger: l, index: index, cfg: cfg, logger: logger}
}

// SetReportFunc configures the report callback.
func (w *Watcher) SetReportFunc(fn ReportFunc) {
	w.onReport = fn
}

// Check refreshes the index and verifies the ledger once.
func (w *Watcher) Check(ctx context.Context) (*verify.Report, error) {
	if err := w.index.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh index: %w", err)
	}
	rep, err := verify.Verify(ctx, w.ledger)
	if err != nil {
		return nil, err
	}

	var size int64
	if v, err := w.ledger.Stat(); err == nil {
		size = v.Size
	}
	if w.onReport != nil {
		w.onReport(rep, w.index.Len(), size)
	}

	fields := []zap.Field{
		zap.String("status", string(rep.Status)),
		zap.Int("blocks_checked", rep.BlocksChecked),
		zap.Stringer("tip", rep.Tip),
	}
	if rep.Valid() {
		w.logger.Info("watch: ledger verified", fields...)
	} else {
		w.logger.Warn("watch: ledger integrity check failed",
			append(fields, zap.Int("violations", len(rep.Violations)))...)
	}
	return rep, nil
}

// Run watches the ledger's directory until ctx is done. It checks once at
// start and again after every debounced change. The directory is watched
// rather than the file because appends replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.ledger.Path())
	name := filepath.Base(w.ledger.Path())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watch: started", zap.String("path", w.ledger.Path()), zap.Duration("debounce", w.cfg.Debounce))

	w.check(ctx)

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}
			timer.Reset(w.cfg.Debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: fs watcher error", zap.Error(err))
		case <-timer.C:
			w.check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("watch: check failed", zap.Error(err))
	}
}
