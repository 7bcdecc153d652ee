// Package dataset reads labeled NER corpora into Examples, maps corpus tags to model tags and
// locates the known datasets on disk.
package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// Example is one labeled training/evaluation instance: words with one tag per word, and an
// optional second segment for sentence-pair tasks.
type Example struct {
	// GUID identifies the example, e.g. "train-12".
	GUID string

	TextA   []string
	LabelsA []string

	// TextB and LabelsB are nil for single-segment examples.
	TextB   []string
	LabelsB []string
}

// NewExample creates a single-segment Example from space separated words and tags, e.g.
// NewExample("train-0", "at arbetsförmedlingen", "O ORG").
func NewExample(guid, text, labels string) (Example, error) {
	ex := Example{
		GUID:    guid,
		TextA:   strings.Split(text, " "),
		LabelsA: strings.Split(labels, " "),
	}
	return ex, ex.Validate()
}

// HasSegmentB reports whether the example is a sentence pair.
func (ex Example) HasSegmentB() bool {
	return ex.TextB != nil && ex.LabelsB != nil
}

// Validate checks that every word has exactly one tag.
func (ex Example) Validate() error {
	if len(ex.TextA) != len(ex.LabelsA) {
		return errors.Errorf("example %q: %d words but %d labels in segment a", ex.GUID, len(ex.TextA), len(ex.LabelsA))
	}
	if len(ex.TextB) != len(ex.LabelsB) {
		return errors.Errorf("example %q: %d words but %d labels in segment b", ex.GUID, len(ex.TextB), len(ex.LabelsB))
	}
	return nil
}

// Prune keeps the first ratio fraction of examples. A ratio >= 1 keeps all of them, and
// at least one example is kept when there is any.
func Prune(examples []Example, ratio float64) []Example {
	if ratio >= 1 || len(examples) == 0 {
		return examples
	}
	n := int(ratio * float64(len(examples)))
	if n < 1 {
		n = 1
	}
	return examples[:n]
}
