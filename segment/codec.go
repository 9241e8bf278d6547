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

// Package segment implements the binary segment framing of spec.md §6: a
// magic/version header followed by a stream of length-prefixed,
// CRC32-checked delta records. Segments are append-only while open and
// immutable once sealed to the object store, the same write-then-seal
// discipline the teacher applies to its append-only FileLogfile
// (storage/persistence-files.go), generalized here from line-oriented
// "delete "/"insert " records to a binary delta framing able to carry
// arbitrary CRDT values.
package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/launix-de/kvmesh/delta"
)

const (
	magic         uint32 = 0x4b564d31 // "KVM1"
	formatVersion uint16 = 1
)

// headerSize is magic(4) + version(2).
const headerSize = 6

// Encoder appends delta records to an in-memory buffer, producing the
// bytes for one sealed segment object.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder starts a fresh segment with the format header written.
func NewEncoder() *Encoder {
	e := &Encoder{}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint16(hdr[4:6], formatVersion)
	e.buf.Write(hdr[:])
	return e
}

// Append serializes d as a length-prefixed, CRC-checked record.
func (e *Encoder) Append(d delta.Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("segment: marshal delta: %w", err)
	}
	checksum := crc32.ChecksumIEEE(payload)

	var lenAndCRC [8]byte
	binary.BigEndian.PutUint32(lenAndCRC[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(lenAndCRC[4:8], checksum)
	e.buf.Write(lenAndCRC[:])
	e.buf.Write(payload)
	return nil
}

// Bytes returns the encoded segment so far. The encoder remains usable
// after calling Bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len reports the current encoded size in bytes, used to decide when a
// segment has grown past its configured threshold (spec.md §4.7/§6).
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// ErrCorrupt is returned by Decode when the header or a record checksum
// does not validate.
var ErrCorrupt = fmt.Errorf("segment: corrupt data")

// Decode parses a sealed segment's bytes back into an ordered slice of
// deltas. A checksum mismatch on any record returns ErrCorrupt wrapped
// with the offending record's byte offset, so recovery (spec.md §4.9) can decide
// whether to truncate-and-continue or abort.
func Decode(data []byte) ([]delta.Delta, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if binary.BigEndian.Uint32(data[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if binary.BigEndian.Uint16(data[4:6]) != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version", ErrCorrupt)
	}

	var deltas []delta.Delta
	off := headerSize
	for off < len(data) {
		if off+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated record header at offset %d", ErrCorrupt, off)
		}
		length := binary.BigEndian.Uint32(data[off : off+4])
		wantCRC := binary.BigEndian.Uint32(data[off+4 : off+8])
		off += 8

		if off+int(length) > len(data) {
			return nil, fmt.Errorf("%w: truncated payload at offset %d", ErrCorrupt, off)
		}
		payload := data[off : off+int(length)]
		off += int(length)

		if crc32.ChecksumIEEE(payload) != wantCRC {
			return nil, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, off)
		}

		var d delta.Delta
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("%w: invalid delta json at offset %d: %v", ErrCorrupt, off, err)
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}

// DecodeTolerant behaves like Decode but stops at the first corrupt
// record instead of failing the whole segment, returning every delta
// successfully parsed before the corruption along with the byte offset
// where it stopped. Recovery (spec.md §4.9) uses this to salvage a
// partially-written tail segment from an interrupted writer.
func DecodeTolerant(data []byte) (deltas []delta.Delta, truncatedAt int, ok bool) {
	if len(data) < headerSize {
		return nil, 0, false
	}
	if binary.BigEndian.Uint32(data[0:4]) != magic {
		return nil, 0, false
	}
	if binary.BigEndian.Uint16(data[4:6]) != formatVersion {
		return nil, 0, false
	}

	off := headerSize
	for off < len(data) {
		if off+8 > len(data) {
			return deltas, off, true
		}
		length := binary.BigEndian.Uint32(data[off : off+4])
		wantCRC := binary.BigEndian.Uint32(data[off+4 : off+8])
		recStart := off + 8

		if recStart+int(length) > len(data) {
			return deltas, off, true
		}
		payload := data[recStart : recStart+int(length)]

		if crc32.ChecksumIEEE(payload) != wantCRC {
			return deltas, off, true
		}

		var d delta.Delta
		if err := json.Unmarshal(payload, &d); err != nil {
			return deltas, off, true
		}
		deltas = append(deltas, d)
		off = recStart + int(length)
	}
	return deltas, off, true
}
