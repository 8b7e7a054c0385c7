package ot

import (
	"encoding/json"
	"maps"
	"slices"
)

// VersionVector maps author IDs to the latest sequence number known to be
// incorporated for that author. It is not safe for concurrent mutation;
// the owner of the document state serializes access.
type VersionVector struct {
	versions map[string]uint64
}

// NewVersionVector creates an empty version vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{versions: make(map[string]uint64)}
}

// Get returns the sequence for author, or 0 for unseen authors.
func (v *VersionVector) Get(author string) uint64 {
	return v.versions[author]
}

// Set stores seq for author unconditionally. Use Advance or UpdateWith to
// keep the per-author entry monotonic.
func (v *VersionVector) Set(author string, seq uint64) {
	if v.versions == nil {
		v.versions = make(map[string]uint64)
	}

	v.versions[author] = seq
}

// Advance raises the entry for author to seq if seq is higher.
func (v *VersionVector) Advance(author string, seq uint64) {
	if seq > v.Get(author) {
		v.Set(author, seq)
	}
}

// IsCausallyReady reports whether rec's prerequisites have been
// incorporated: the entry for its author has reached its base version.
func (v *VersionVector) IsCausallyReady(rec EditRecord) bool {
	return v.Get(rec.AuthorID) >= rec.BaseVersion
}

// UpdateWith raises the entry for rec's author to rec.BaseVersion.
// It never lowers an entry.
func (v *VersionVector) UpdateWith(rec EditRecord) {
	v.Advance(rec.AuthorID, rec.BaseVersion)
}

// Authors returns the known authors in lexicographic order.
func (v *VersionVector) Authors() []string {
	return slices.Sorted(maps.Keys(v.versions))
}

// Clone returns an independent copy.
func (v *VersionVector) Clone() *VersionVector {
	return &VersionVector{versions: maps.Clone(v.versions)}
}

// MarshalJSON encodes the vector as a JSON object.
func (v *VersionVector) MarshalJSON() ([]byte, error) {
	if v.versions == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(v.versions)
}

// UnmarshalJSON decodes a JSON object of author sequences.
func (v *VersionVector) UnmarshalJSON(data []byte) error {
	versions := make(map[string]uint64)
	if err := json.Unmarshal(data, &versions); err != nil {
		return err
	}

	v.versions = versions

	return nil
}
