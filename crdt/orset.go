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
package crdt

import "sort"

// Tag is a unique add-witness for one (element, add-event) pair, so that a
// concurrent add and remove of the same element resolve in favor of the add
// (observed-remove semantics, §4.3/GLOSSARY).
type Tag struct {
	NodeID  uint64 `json:"node_id"`
	Counter uint64 `json:"counter"`
}

// ORSet is an observed-remove set: elements carry the set of add-tags that
// introduced them; Join unions add-sets and remove-sets independently, and
// the visible set is add-tags minus removed-tags (§4.3).
type ORSet struct {
	Adds    map[string]map[Tag]struct{} `json:"adds"`
	Removes map[string]map[Tag]struct{} `json:"removes"`
}

// NewORSetEmpty allocates an empty OR-Set.
func NewORSetEmpty() *ORSet {
	return &ORSet{
		Adds:    make(map[string]map[Tag]struct{}),
		Removes: make(map[string]map[Tag]struct{}),
	}
}

// Add introduces element with a fresh unique tag.
func (s *ORSet) Add(element string, tag Tag) {
	if s.Adds == nil {
		s.Adds = make(map[string]map[Tag]struct{})
	}
	if s.Adds[element] == nil {
		s.Adds[element] = make(map[Tag]struct{})
	}
	s.Adds[element][tag] = struct{}{}
}

// Remove marks every add-tag currently visible for element as removed. A
// concurrent Add using a tag not yet observed here survives the remove
// once joined, which is the defining observed-remove property.
func (s *ORSet) Remove(element string) {
	tags, ok := s.Adds[element]
	if !ok {
		return
	}
	if s.Removes == nil {
		s.Removes = make(map[string]map[Tag]struct{})
	}
	if s.Removes[element] == nil {
		s.Removes[element] = make(map[Tag]struct{})
	}
	for tag := range tags {
		s.Removes[element][tag] = struct{}{}
	}
}

// Members returns the currently visible elements: those with at least one
// add-tag not present in the remove-set.
func (s *ORSet) Members() []string {
	out := make([]string, 0, len(s.Adds))
	for element, tags := range s.Adds {
		removed := s.Removes[element]
		visible := false
		for tag := range tags {
			if _, isRemoved := removed[tag]; !isRemoved {
				visible = true
				break
			}
		}
		if visible {
			out = append(out, element)
		}
	}
	sort.Strings(out)
	return out
}

// Contains reports whether element is currently visible.
func (s *ORSet) Contains(element string) bool {
	tags, ok := s.Adds[element]
	if !ok {
		return false
	}
	removed := s.Removes[element]
	for tag := range tags {
		if _, isRemoved := removed[tag]; !isRemoved {
			return true
		}
	}
	return false
}

// Cardinality returns the number of currently visible elements.
func (s *ORSet) Cardinality() int {
	return len(s.Members())
}

// Join unions both the add-sets and the remove-sets of s and other.
func (s *ORSet) Join(other *ORSet) *ORSet {
	if s == nil {
		return other
	}
	if other == nil {
		return s
	}
	out := NewORSetEmpty()
	unionTagSets(out.Adds, s.Adds)
	unionTagSets(out.Adds, other.Adds)
	unionTagSets(out.Removes, s.Removes)
	unionTagSets(out.Removes, other.Removes)
	return out
}

func unionTagSets(dst map[string]map[Tag]struct{}, src map[string]map[Tag]struct{}) {
	for element, tags := range src {
		if dst[element] == nil {
			dst[element] = make(map[Tag]struct{}, len(tags))
		}
		for tag := range tags {
			dst[element][tag] = struct{}{}
		}
	}
}

// Equal reports whether s and other carry identical add/remove tag sets.
func (s *ORSet) Equal(other *ORSet) bool {
	if s == nil || other == nil {
		return s == other
	}
	return tagSetsEqual(s.Adds, other.Adds) && tagSetsEqual(s.Removes, other.Removes)
}

func tagSetsEqual(a, b map[string]map[Tag]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for element, tags := range a {
		otherTags, ok := b[element]
		if !ok || len(tags) != len(otherTags) {
			return false
		}
		for tag := range tags {
			if _, ok := otherTags[tag]; !ok {
				return false
			}
		}
	}
	return true
}

func (s *ORSet) fingerprint() uint64 {
	if s == nil {
		return 0
	}
	members := s.Members()
	var h uint64 = 14695981039346656037
	for _, m := range members {
		for _, b := range []byte(m) {
			h ^= uint64(b)
			h *= 1099511628211
		}
	}
	return h
}
