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

// Package kverrors defines the client-visible error kinds of spec.md §7 and
// the internal (not client-visible) kinds used by the object store and
// recovery paths. Client-visible kinds carry a RESP error prefix so the
// command layer can format them directly; this is a boundary concern
// specific to this project, not a generic error-wrapping need any example
// dependency addresses, so it is built on errors.New/fmt.Errorf (see
// DESIGN.md).
package kverrors

import (
	"errors"
	"fmt"
)

// Kind is a client-visible error kind, carrying the RESP error prefix used
// to format it on the wire (e.g. "-WRONGTYPE ...\r\n").
type Kind struct {
	Prefix string
}

var (
	WrongType  = Kind{"WRONGTYPE"}
	NotInteger = Kind{"NOT_INTEGER"}
	Overflow   = Kind{"OVERFLOW"}
	Syntax     = Kind{"SYNTAX"}
	NotFound   = Kind{"NOT_FOUND"}
	OOMQueue   = Kind{"OOM_QUEUE"}
	IOPersist  = Kind{"IO_PERSISTENCE"}
)

// KindError pairs a Kind with a human-readable message. Command handlers
// return *KindError; the RESP encoder maps it onto a RESP error reply.
type KindError struct {
	Kind Kind
	Msg  string
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s %s", e.Kind.Prefix, e.Msg)
}

// New constructs a client-visible error of the given kind.
func New(kind Kind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or any error it wraps) is a *KindError of the
// given kind, using errors.As to unwrap, so command and test code can
// write kverrors.Is(err, kverrors.WrongType).
func Is(err error, kind Kind) bool {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// Internal (not client-visible) error kinds, per §7.

// ErrObjectNotFound indicates a Get for a key the object store does not
// have. The object-store backends and the recovery bootstrap use
// objectstore.ErrNotFound instead; nothing in this module returns this
// sentinel.
var ErrObjectNotFound = errors.New("objectstore: not found")

// ErrTransient is a kvmesh-internal retryable-failure sentinel, distinct
// from objectstore.ErrTransient (which the simulated store actually
// raises and persistence.Buffer.retryPut actually retries against). Kept
// for parity with the rest of this block's internal kinds; unused until a
// non-object-store component needs its own retryable sentinel.
var ErrTransient = errors.New("objectstore: transient error")

// ErrCorrupt indicates a segment or checkpoint failed its CRC check.
// Recovery does not treat a corrupt segment record as fatal: the
// persistence Recoverer replays the records before it, drops the rest of
// that segment and reports it as salvaged; only an unreadable segment
// header fails recovery.
var ErrCorrupt = errors.New("objectstore: corrupt object")

// ErrChannelClosed indicates a send to a shard or gossip channel that has
// already been shut down.
var ErrChannelClosed = errors.New("channel: closed")

// ErrRecoveryCorrupt wraps ErrCorrupt with recovery-path context. Nothing
// in this module returns it; recovery does not abort on a corrupt record
// (see ErrCorrupt).
var ErrRecoveryCorrupt = fmt.Errorf("recovery: %w", ErrCorrupt)
