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

//go:build !ceph

// Stub for builds without the ceph tag, grounded on
// storage/persistence-ceph-stub.go: go-ceph links against librados via cgo,
// so it is opt-in behind a build tag rather than an unconditional
// dependency.
package objectstore

// CephConfig mirrors the real backend's configuration shape so callers can
// construct one regardless of build tags.
type CephConfig struct {
	ConfigFile string
	Pool       string
	Prefix     string
}

// Ceph is a placeholder type satisfying references to the real backend's
// name in non-ceph builds.
type Ceph struct{}

// NewCeph panics outside of ceph-tagged builds.
func NewCeph(_ CephConfig) *Ceph {
	panic("objectstore: ceph support not compiled in. Build with: go build -tags=ceph")
}
