package report

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Chunk is a span [Start, End] (inclusive) of positions sharing one entity type.
type Chunk struct {
	Type       string
	Start, End int
}

// splitTag returns the B/I prefix and the type of a BIO tag; "O" (or any unprefixed tag) has prefix "O".
func splitTag(tag string) (prefix, typ string) {
	if len(tag) > 2 && (strings.HasPrefix(tag, "B-") || strings.HasPrefix(tag, "I-")) {
		return tag[:1], tag[2:]
	}
	return "O", ""
}

// Chunks extracts the chunks of a BIO tagged sequence. A chunk starts at a "B-" tag, or at an "I-" tag
// following "O" or a tag of a different type.
func Chunks(seq []string) []Chunk {
	var chunks []Chunk
	prevType := ""
	start := -1
	for i, tag := range seq {
		prefix, typ := splitTag(tag)
		if start >= 0 && (prefix != "I" || typ != prevType) {
			chunks = append(chunks, Chunk{Type: prevType, Start: start, End: i - 1})
			start = -1
		}
		if prefix == "B" || (prefix == "I" && start < 0) {
			start = i
		}
		prevType = typ
	}
	if start >= 0 {
		chunks = append(chunks, Chunk{Type: prevType, Start: start, End: len(seq) - 1})
	}
	return chunks
}

// ChunkBased reports, per entity type sorted by name, the precision and recall of the predicted
// chunks: a predicted chunk is correct only if a true chunk has the same span and type. Support is
// the number of true chunks.
func ChunkBased(trueBIO, predBIO []string) (string, error) {
	if len(trueBIO) != len(predBIO) {
		return "", errors.Errorf("%d true tags but %d predicted tags", len(trueBIO), len(predBIO))
	}
	trueChunks := make(map[Chunk]bool)
	classes := make(map[string]scores)
	for _, c := range Chunks(trueBIO) {
		trueChunks[c] = true
		s := classes[c.Type]
		s.fn++
		classes[c.Type] = s
	}
	for _, c := range Chunks(predBIO) {
		s := classes[c.Type]
		if trueChunks[c] {
			s.tp++
			s.fn--
		} else {
			s.fp++
		}
		classes[c.Type] = s
	}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return table(names, classes), nil
}
