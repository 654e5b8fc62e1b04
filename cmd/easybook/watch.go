package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	appLog "easybook/internal/log"
	"easybook/internal/report"
	"easybook/internal/source"
	"easybook/internal/store"
)

// dirWatcher reloads the newest export in a drop directory whenever it
// changes.
type dirWatcher struct {
	dir      string
	encoding string
	store    *store.Store

	mu       sync.Mutex
	lastPath string
	lastMod  time.Time
}

func newDirWatcher(dir, encoding string, st *store.Store) *dirWatcher {
	return &dirWatcher{dir: dir, encoding: encoding, store: st}
}

// check loads the newest CSV if it differs from the last one loaded. It
// returns the loaded path, or "" when nothing changed.
func (w *dirWatcher) check() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, mod, err := source.LatestCSV(w.dir)
	if err != nil {
		return "", err
	}
	if path == w.lastPath && mod.Equal(w.lastMod) {
		return "", nil
	}
	if _, err := w.store.LoadFile(path, w.encoding); err != nil {
		return "", err
	}
	w.lastPath, w.lastMod = path, mod
	return path, nil
}

// run is the cron entry point.
func (w *dirWatcher) run() {
	loaded, err := w.check()
	switch {
	case errors.Is(err, source.ErrNoCSV):
		appLog.Debug("no export in watch dir yet", "dir", w.dir)
	case err != nil:
		appLog.Error("watch dir reload failed", err, "dir", w.dir)
	case loaded != "":
		appLog.Info("watch dir reloaded", "path", loaded)
	}
}

// writeEventsFile atomically replaces path with the events of snap.
func writeEventsFile(path string, snap *store.Snapshot) error {
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, snap.Events()); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".easybook-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
