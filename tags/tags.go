// Package tags defines the label vocabulary of a token-classification task: an ordered set of
// distinct tags whose first entries are the structural markers used for padding, sequence start
// and sequence end.
package tags

import (
	"strings"

	"github.com/pkg/errors"
)

// Default structural markers, matching BERT's special tokens. The marker strings double as
// pseudo-labels for the marker positions of an encoded sequence.
const (
	Pad   = "[PAD]"
	Start = "[CLS]"
	End   = "[SEP]"

	// Outside is the "no entity" tag.
	Outside = "O"
)

// Vocabulary maps tags to dense 0-based ids. It is immutable once created.
type Vocabulary struct {
	tags  []string
	ids   map[string]int
	pad   string
	start string
	end   string
}

// New creates a Vocabulary whose first three entries are the given pad, start and end markers,
// followed by the semantic tags (e.g. "O", "PER", "ORG").
//
// Tags must be distinct and non-empty.
func New(pad, start, end string, semantic ...string) (*Vocabulary, error) {
	all := make([]string, 0, len(semantic)+3)
	all = append(all, pad, start, end)
	all = append(all, semantic...)
	v := &Vocabulary{
		tags:  all,
		ids:   make(map[string]int, len(all)),
		pad:   pad,
		start: start,
		end:   end,
	}
	for id, tag := range all {
		if tag == "" {
			return nil, errors.Errorf("empty tag at position %d", id)
		}
		if _, found := v.ids[tag]; found {
			return nil, errors.Errorf("duplicate tag %q", tag)
		}
		v.ids[tag] = id
	}
	return v, nil
}

// NewDefault creates a Vocabulary with the BERT markers [PAD], [CLS] and [SEP].
func NewDefault(semantic ...string) (*Vocabulary, error) {
	return New(Pad, Start, End, semantic...)
}

// FromList creates a Vocabulary from a full ordered list, whose first three entries are the
// pad, start and end markers.
func FromList(list []string) (*Vocabulary, error) {
	if len(list) < 3 {
		return nil, errors.Errorf("tag list %v needs at least the 3 structural markers", list)
	}
	return New(list[0], list[1], list[2], list[3:]...)
}

// Len returns the number of tags, markers included.
func (v *Vocabulary) Len() int { return len(v.tags) }

// List returns a copy of the ordered tags.
func (v *Vocabulary) List() []string {
	return append([]string(nil), v.tags...)
}

// PadTag, StartTag and EndTag return the structural markers.
func (v *Vocabulary) PadTag() string   { return v.pad }
func (v *Vocabulary) StartTag() string { return v.start }
func (v *Vocabulary) EndTag() string   { return v.end }

// ID returns the id of tag.
func (v *Vocabulary) ID(tag string) (int, bool) {
	id, ok := v.ids[tag]
	return id, ok
}

// Tag returns the tag for id. It panics if id is out of range, like a slice access.
func (v *Vocabulary) Tag(id int) string {
	return v.tags[id]
}

// IsMarker reports whether tag is a structural marker: one of the three markers, or any bracketed tag like "[MASK]".
func (v *Vocabulary) IsMarker(tag string) bool {
	if tag == v.pad || tag == v.start || tag == v.end {
		return true
	}
	return strings.HasPrefix(tag, "[")
}

// Filtered returns the semantic tags excluding Outside ("O") and markers, in vocabulary order.
func (v *Vocabulary) Filtered() []string {
	var filtered []string
	for _, tag := range v.tags {
		if tag == Outside || v.IsMarker(tag) {
			continue
		}
		filtered = append(filtered, tag)
	}
	return filtered
}

// FilteredIDs returns the ids of Filtered().
func (v *Vocabulary) FilteredIDs() []int {
	filtered := v.Filtered()
	ids := make([]int, len(filtered))
	for i, tag := range filtered {
		ids[i] = v.ids[tag]
	}
	return ids
}
