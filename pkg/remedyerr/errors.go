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

// Package remedyerr provides error wrapping helpers and the sentinel error
// taxonomy shared across the remediation run engine.
package remedyerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy described in spec §7. Callers use
// errors.Is against these to classify a failure without string matching.
var (
	// ErrLockTimeout is returned when the file lock protocol's deadline
	// elapses before a writer can acquire or reclaim a lock.
	ErrLockTimeout = errors.New("remedy: lock acquisition timed out")

	// ErrCircuitOpen is returned by the hardened client when the circuit
	// breaker is open and a request fails fast without network I/O.
	ErrCircuitOpen = errors.New("remedy: circuit breaker open")

	// ErrValidation marks a caller error (bad input) that must not mutate
	// any state: ingest validation, boundary request validation, etc.
	ErrValidation = errors.New("remedy: validation failed")

	// ErrNotFound marks a missing run, session, or resource.
	ErrNotFound = errors.New("remedy: not found")

	// ErrCorruptPersistence marks a malformed on-disk file (ledger or
	// memory graph) that was treated as empty rather than fatal.
	ErrCorruptPersistence = errors.New("remedy: corrupt persisted data")

	// ErrPreflightFailed marks a preflight validation failure that aborts
	// a run before any wave is dispatched.
	ErrPreflightFailed = errors.New("remedy: preflight check failed")
)

// Wrap creates a new error that wraps err with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps err with formatted context.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
