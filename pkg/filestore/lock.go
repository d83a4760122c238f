// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filestore implements the cross-process file lock and atomic
// rename protocol (spec §4.1) used by every writer of per-run state, the
// run index, and the memory graph.
package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// LockMetadata is the JSON payload stored inside a P.lock file.
type LockMetadata struct {
	PID       int       `json:"pid"`
	Host      string     `json:"host"`
	StartedAt time.Time  `json:"started_at"`
	Writer    string     `json:"writer"`
}

// LockOptions configures staleness and polling behavior. Zero values fall
// back to the defaults in spec §4.1 (30s staleness, 100ms poll, 5s deadline).
type LockOptions struct {
	StaleAfter    time.Duration
	PollInterval  time.Duration
	AcquireDeadline time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.AcquireDeadline <= 0 {
		o.AcquireDeadline = 5 * time.Second
	}
	return o
}

// FileLock is a held advisory lock on path+".lock". Release must be called
// exactly once, on every exit path including error and cancellation.
type FileLock struct {
	path string
}

// Acquire implements the lock protocol from spec §4.1 for the target path
// p (the lock file is p+".lock"). writer identifies the caller (e.g.
// "tracker", "review") for diagnostics.
func Acquire(p string, writer string, opts LockOptions) (*FileLock, error) {
	opts = opts.withDefaults()
	lockPath := p + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, remedyerr.Wrapf(err, "creating directory for lock %s", lockPath)
	}
	deadline := time.Now().Add(opts.AcquireDeadline)

	for {
		if ok, err := tryCreateLock(lockPath, writer); err != nil {
			return nil, err
		} else if ok {
			return &FileLock{path: lockPath}, nil
		}

		stale, err := isStale(lockPath, opts.StaleAfter)
		if err != nil && !os.IsNotExist(err) {
			return nil, remedyerr.Wrapf(err, "inspecting lock %s", lockPath)
		}
		if stale {
			_ = os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, remedyerr.Wrapf(remedyerr.ErrLockTimeout, "acquiring lock %s", lockPath)
		}
		time.Sleep(opts.PollInterval)
	}
}

func tryCreateLock(lockPath, writer string) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, remedyerr.Wrapf(err, "creating lock %s", lockPath)
	}
	defer f.Close()

	meta := LockMetadata{
		PID:       os.Getpid(),
		Host:      hostname(),
		StartedAt: time.Now(),
		Writer:    writer,
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(meta); err != nil {
		return false, remedyerr.Wrapf(err, "writing lock metadata %s", lockPath)
	}
	return true, nil
}

func isStale(lockPath string, staleAfter time.Duration) (bool, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false, err
	}
	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Unparseable lock metadata: treat conservatively as stale once the
		// file itself is older than staleAfter by mtime.
		info, statErr := os.Stat(lockPath)
		if statErr != nil {
			return false, statErr
		}
		return time.Since(info.ModTime()) >= staleAfter, nil
	}

	if time.Since(meta.StartedAt) >= staleAfter {
		return true, nil
	}
	if meta.Host == hostname() && !pidAlive(meta.PID) {
		return true, nil
	}
	return false, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Release unlinks the lock file, guaranteed safe to call even if the lock
// file was already removed by another process.
func (l *FileLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return remedyerr.Wrapf(err, "releasing lock %s", l.path)
	}
	return nil
}
