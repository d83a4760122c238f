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

package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// WriteAtomicJSON marshals v and writes it to path via WriteAtomicFile, so
// readers never observe a partial write.
func WriteAtomicJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return remedyerr.Wrapf(err, "marshaling %s", path)
	}
	return WriteAtomicFile(path, data)
}

// WriteAtomicFile writes data to path by materializing into a sibling temp
// file then renaming over the destination. Used directly for non-JSON
// payloads (an uploaded CSV, a pid file) that still need the same
// no-partial-write guarantee as the JSON state files.
func WriteAtomicFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return remedyerr.Wrapf(err, "creating directory for %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return remedyerr.Wrapf(err, "creating temp file for %s", path)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return remedyerr.Wrapf(err, "writing temp file for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return remedyerr.Wrapf(err, "syncing temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return remedyerr.Wrapf(err, "closing temp file for %s", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return remedyerr.Wrapf(err, "renaming temp file onto %s", path)
	}
	return nil
}

// ReadJSON reads and unmarshals path into v. Returns os.IsNotExist-able
// errors unwrapped so callers can treat "missing" specially.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
