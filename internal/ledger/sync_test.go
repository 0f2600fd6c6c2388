package ledger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSyncDir_logsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := New(filepath.Join(t.TempDir(), "custody.ledger"), WithLogger(zap.New(core)))

	l.syncDir(filepath.Dir(l.Path()))
	if n := logs.Len(); n != 0 {
		t.Fatalf("sync of an existing directory logged %d warnings", n)
	}

	missing := filepath.Join(t.TempDir(), "gone")
	l.syncDir(missing)
	entries := logs.TakeAll()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["dir"]; got != missing {
		t.Errorf("warning should name the directory, got %v", got)
	}
}
