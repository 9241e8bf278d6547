/*
Copyright (C) 2026  kvmesh contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package objectstore is the abstract object-store boundary of spec.md
// §4.10: put/get/list/delete over opaque keys, with production backends
// (local filesystem, S3, Ceph/RADOS) and a simulated in-memory backend that
// injects faults for the deterministic simulation harness (§5).
//
// The interface shape is grounded on the teacher's PersistenceEngine
// (storage/persistence.go): that interface enumerated schema/column/log
// operations for a columnar store; here it collapses to the four opaque-key
// operations spec.md §4.10 names, because this project's persisted unit is
// a whole segment object rather than a per-column file.
package objectstore

import (
	"context"
	"errors"
)

// Store is the object-store abstraction every persistence/recovery/
// compaction component depends on. All operations are asynchronous
// (context-bound) and fallible, per §4.10.
type Store interface {
	// Put is an atomic create-or-replace of key with the given bytes.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key with the given prefix. May be eventually
	// consistent; callers must tolerate stale lists by re-checking the
	// manifest (§4.10).
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Idempotent: deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// ManifestKey is the fixed object name for the manifest (§6).
const ManifestKey = "manifest"
