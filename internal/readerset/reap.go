package readerset

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
)

// Reap removes reader files left behind by processes that crashed
// without releasing their handle. This is implied but not spelled out
// by the spec's "one small file per active reader" line: a crashed
// reader's pin would otherwise block GC forever.
func (r *Registry) Reap() (removed int, err error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// Unreadable reader file: treat as stale and remove.
			_ = os.Remove(path)
			removed++
			continue
		}
		if rec.PID == os.Getpid() {
			if _, live := r.active[rec.SessionID]; live {
				continue
			}
		}
		if processAlive(rec.PID) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// processAlive reports whether pid still refers to a running process,
// using the signal-0 idiom. Always true on platforms where this check
// isn't meaningful, so Reap degrades to a no-op rather than deleting a
// live reader's pin.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// Only an error saying the process is gone counts as dead; a refused
	// or unsupported signal leaves the reader's pin in place.
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}
