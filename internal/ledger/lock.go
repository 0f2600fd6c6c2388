package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	fslock "github.com/ipfs/go-fs-lock"
	"go.uber.org/zap"
)

// lockSuffix names the advisory lock file kept next to the ledger.
const lockSuffix = ".lock"

// acquireWriter takes the process-local write mutex and the cross-process
// advisory lock. The returned func releases both.
func (l *Ledger) acquireWriter(ctx context.Context) (func(), error) {
	l.writeMu.Lock()

	dir, name := filepath.Split(l.path)
	if dir == "" {
		dir = "."
	}
	name += lockSuffix

	var closer io.Closer
	op := func() error {
		c, err := fslock.Lock(dir, name)
		if err != nil {
			var locked fslock.LockedError
			if errors.As(err, &locked) {
				return err
			}
			return backoff.Permanent(err)
		}
		closer = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = l.lockTimeout

	notify := func(err error, wait time.Duration) {
		l.logger.Debug("ledger lock busy, retrying",
			zap.String("path", l.path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		l.writeMu.Unlock()
		var locked fslock.LockedError
		if errors.As(err, &locked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, filepath.Join(dir, name))
		}
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}

	return func() {
		if err := closer.Close(); err != nil {
			l.logger.Warn("release ledger lock", zap.String("path", l.path), zap.Error(err))
		}
		l.writeMu.Unlock()
	}, nil
}
