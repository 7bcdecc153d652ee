// Package encoding converts labeled examples into fixed-length integer sequences for a token-classification
// model: word-piece token ids, attention mask, segment ids and label ids.
//
// Word-level labels are propagated verbatim to every word-piece of the word, the sequences get the
// encoder's start/end markers, are truncated to fit and right-padded with 0.
//
// Example:
//
//	enc, err := encoding.New(tokenizer, vocab, 128)
//	encoded, err := enc.Encode(example)
//	batch, err := encoding.NewBatch(encodedExamples)
package encoding

import (
	"github.com/gomlx/go-nerkit/dataset"
	"github.com/gomlx/go-nerkit/tags"
	"github.com/gomlx/go-nerkit/tokenizers/api"
	"github.com/pkg/errors"
)

// ErrLengthInvariant is returned when an encoded sequence doesn't have exactly the configured length.
// It signals a defect in the encoder, not a caller error.
var ErrLengthInvariant = errors.New("encoded sequence length invariant violated")

// Encoded holds the fixed-length sequences of one example. All four have the same length,
// and AttentionMask[i] is 1 iff position i holds a real (non-padding) token.
type Encoded struct {
	TokenIDs      []int32
	AttentionMask []int32
	SegmentIDs    []int32
	LabelIDs      []int32
}

// Len returns the sequence length.
func (e *Encoded) Len() int { return len(e.TokenIDs) }

// Encoder converts dataset.Example to Encoded. It is safe for concurrent use if the tokenizer is.
type Encoder struct {
	tokenizer    api.WordTokenizer
	vocab        *tags.Vocabulary
	maxSeqLength int
}

// New creates an Encoder producing sequences of exactly maxSeqLength, using the vocabulary's start
// and end markers both as tokens and as their pseudo-labels.
func New(tokenizer api.WordTokenizer, vocab *tags.Vocabulary, maxSeqLength int) (*Encoder, error) {
	if tokenizer == nil || vocab == nil {
		return nil, errors.New("encoding.New requires a tokenizer and a tag vocabulary")
	}
	if maxSeqLength < 2 {
		return nil, errors.Errorf("max sequence length %d can't hold the start and end markers", maxSeqLength)
	}
	return &Encoder{tokenizer: tokenizer, vocab: vocab, maxSeqLength: maxSeqLength}, nil
}

// MaxSeqLength returns the length of the encoded sequences.
func (enc *Encoder) MaxSeqLength() int { return enc.maxSeqLength }

// Vocabulary returns the tag vocabulary used for the label ids.
func (enc *Encoder) Vocabulary() *tags.Vocabulary { return enc.vocab }

// TokenizeWords splits each word into word-pieces and repeats the word's label for every piece.
// A word yielding no pieces contributes no label.
func (enc *Encoder) TokenizeWords(words, labels []string) (tokens, tokenLabels []string, err error) {
	if len(words) != len(labels) {
		return nil, nil, errors.Errorf("%d words but %d labels", len(words), len(labels))
	}
	tokens = make([]string, 0, len(words))
	tokenLabels = make([]string, 0, len(words))
	for i, word := range words {
		pieces := enc.tokenizer.Tokenize(word)
		tokens = append(tokens, pieces...)
		for range pieces {
			tokenLabels = append(tokenLabels, labels[i])
		}
	}
	return tokens, tokenLabels, nil
}

// Encode converts one example. Segment b is encoded only if the example has one.
func (enc *Encoder) Encode(ex dataset.Example) (*Encoded, error) {
	tokensA, labelsA, err := enc.TokenizeWords(ex.TextA, ex.LabelsA)
	if err != nil {
		return nil, errors.WithMessagef(err, "example %q segment a", ex.GUID)
	}
	var tokensB, labelsB []string
	pair := ex.HasSegmentB()
	reserved := 2 // start + end
	if pair {
		tokensB, labelsB, err = enc.TokenizeWords(ex.TextB, ex.LabelsB)
		if err != nil {
			return nil, errors.WithMessagef(err, "example %q segment b", ex.GUID)
		}
		reserved = 3 // start + separator + end
	}

	lenA, lenB, err := TruncateLengths(enc.maxSeqLength-reserved, len(tokensA), len(tokensB))
	if err != nil {
		return nil, errors.Wrapf(ErrLengthInvariant, "example %q: %v", ex.GUID, err)
	}
	tokensA, labelsA = tokensA[:lenA], labelsA[:lenA]
	tokensB, labelsB = tokensB[:lenB], labelsB[:lenB]

	start, end := enc.vocab.StartTag(), enc.vocab.EndTag()
	n := lenA + lenB + reserved
	tokens := make([]string, 0, n)
	labels := make([]string, 0, n)
	segments := make([]int32, 0, n)

	tokens = append(append(append(tokens, start), tokensA...), end)
	labels = append(append(append(labels, start), labelsA...), end)
	for range lenA + 2 {
		segments = append(segments, 0)
	}
	if pair {
		tokens = append(append(tokens, tokensB...), end)
		labels = append(append(labels, labelsB...), end)
		for range lenB + 1 {
			segments = append(segments, 1)
		}
	}

	tokenIDs := enc.tokenizer.ConvertTokensToIDs(tokens)
	mask := make([]int32, len(tokenIDs))
	for i := range mask {
		mask[i] = 1
	}
	labelIDs := make([]int32, len(labels))
	for i, label := range labels {
		id, ok := enc.vocab.ID(label)
		if !ok {
			return nil, errors.Errorf("example %q: tag %q is not in the tag vocabulary %v", ex.GUID, label, enc.vocab.List())
		}
		labelIDs[i] = int32(id)
	}

	encoded := &Encoded{
		TokenIDs:      padInt32(toInt32(tokenIDs), enc.maxSeqLength),
		AttentionMask: padInt32(mask, enc.maxSeqLength),
		SegmentIDs:    padInt32(segments, enc.maxSeqLength),
		LabelIDs:      padInt32(labelIDs, enc.maxSeqLength),
	}
	for _, seq := range [][]int32{encoded.TokenIDs, encoded.AttentionMask, encoded.SegmentIDs, encoded.LabelIDs} {
		if len(seq) != enc.maxSeqLength {
			return nil, errors.Wrapf(ErrLengthInvariant, "example %q: got length %d, want %d", ex.GUID, len(seq), enc.maxSeqLength)
		}
	}
	return encoded, nil
}

// EncodeAll encodes the examples in order, stopping at the first error.
func (enc *Encoder) EncodeAll(examples []dataset.Example) ([]*Encoded, error) {
	encoded := make([]*Encoded, len(examples))
	for i, ex := range examples {
		var err error
		encoded[i], err = enc.Encode(ex)
		if err != nil {
			return nil, err
		}
	}
	return encoded, nil
}

// padInt32 right-pads seq with 0 up to length, or cuts it from the right if longer.
func padInt32(seq []int32, length int) []int32 {
	if len(seq) >= length {
		return seq[:length]
	}
	padded := make([]int32, length)
	copy(padded, seq)
	return padded
}

func toInt32(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
