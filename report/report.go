// Package report builds the human-readable classification reports of an evaluation:
// a token-based report over the semantic tags, and a chunk-based report where a predicted
// chunk only counts if both its span and its type match a true chunk.
package report

import (
	"fmt"
	"strings"

	"github.com/gomlx/go-nerkit/tags"
	"github.com/pkg/errors"
)

// Report holds the classification reports of one evaluation point.
type Report struct {
	Epoch      int
	TokenBased string
	ChunkBased string
}

// String joins both reports under a header with the epoch.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ">>> Epoch: %d\n", r.Epoch)
	sb.WriteString("--- token-based classification report ---\n")
	sb.WriteString(r.TokenBased)
	sb.WriteString("\n--- chunk-based classification report ---\n")
	sb.WriteString(r.ChunkBased)
	return sb.String()
}

// Build creates the reports of epoch from the flat true and predicted label ids (see metrics.Flatten).
func Build(vocab *tags.Vocabulary, epoch int, flatTrue, flatPred []int32) (*Report, error) {
	trueTags, err := ToTags(vocab, flatTrue)
	if err != nil {
		return nil, errors.WithMessage(err, "true labels")
	}
	predTags, err := ToTags(vocab, flatPred)
	if err != nil {
		return nil, errors.WithMessage(err, "predicted labels")
	}
	tokenBased, err := TokenBased(trueTags, predTags, vocab.Filtered())
	if err != nil {
		return nil, err
	}
	trueTags, predTags, err = StripMarkers(vocab, trueTags, predTags)
	if err != nil {
		return nil, err
	}
	chunkBased, err := ChunkBased(AddBIO(trueTags), AddBIO(predTags))
	if err != nil {
		return nil, err
	}
	return &Report{Epoch: epoch, TokenBased: tokenBased, ChunkBased: chunkBased}, nil
}

// ToTags maps label ids to their tags.
func ToTags(vocab *tags.Vocabulary, ids []int32) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || int(id) >= vocab.Len() {
			return nil, errors.Errorf("label id %d at position %d is out of the tag vocabulary (%d tags)", id, i, vocab.Len())
		}
		out[i] = vocab.Tag(int(id))
	}
	return out, nil
}

// StripMarkers removes the positions whose true tag is a structural marker from both sequences, keeping
// them aligned. A marker predicted at a remaining position is replaced by tags.Outside.
func StripMarkers(vocab *tags.Vocabulary, trueTags, predTags []string) (strippedTrue, strippedPred []string, err error) {
	if len(trueTags) != len(predTags) {
		return nil, nil, errors.Errorf("%d true tags but %d predicted tags", len(trueTags), len(predTags))
	}
	strippedTrue = make([]string, 0, len(trueTags))
	strippedPred = make([]string, 0, len(predTags))
	for i, t := range trueTags {
		if vocab.IsMarker(t) {
			continue
		}
		p := predTags[i]
		if vocab.IsMarker(p) {
			p = tags.Outside
		}
		strippedTrue = append(strippedTrue, t)
		strippedPred = append(strippedPred, p)
	}
	return strippedTrue, strippedPred, nil
}

// AddBIO prefixes each tag with "B-" if it differs from the previous tag (or is the first), and with
// "I-" otherwise. tags.Outside is left as is.
func AddBIO(seq []string) []string {
	out := make([]string, len(seq))
	for i, tag := range seq {
		switch {
		case tag == tags.Outside:
			out[i] = tag
		case i == 0 || seq[i-1] != tag:
			out[i] = "B-" + tag
		default:
			out[i] = "I-" + tag
		}
	}
	return out
}
