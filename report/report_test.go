package report

import (
	"strings"
	"testing"

	"github.com/gomlx/go-nerkit/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vocabulary ids: [PAD]=0 [CLS]=1 [SEP]=2 O=3 ORG=4 PER=5.
func newVocab(t *testing.T) *tags.Vocabulary {
	vocab, err := tags.NewDefault("O", "ORG", "PER")
	require.NoError(t, err)
	return vocab
}

func TestAddBIO(t *testing.T) {
	got := AddBIO([]string{"O", "PER", "PER", "LOC", "PER", "O", "PER"})
	assert.Equal(t, []string{"O", "B-PER", "I-PER", "B-LOC", "B-PER", "O", "B-PER"}, got)
	assert.Empty(t, AddBIO(nil))
}

func TestStripMarkers(t *testing.T) {
	vocab := newVocab(t)
	trueTags := []string{"[CLS]", "O", "PER", "[SEP]", "[PAD]"}
	predTags := []string{"[CLS]", "[SEP]", "PER", "O", "[CLS]"}
	gotTrue, gotPred, err := StripMarkers(vocab, trueTags, predTags)
	require.NoError(t, err)
	assert.Equal(t, []string{"O", "PER"}, gotTrue)
	assert.Equal(t, []string{"O", "PER"}, gotPred)

	_, _, err = StripMarkers(vocab, trueTags, predTags[:2])
	assert.Error(t, err)
}

func TestChunks(t *testing.T) {
	testCases := []struct {
		seq  []string
		want []Chunk
	}{
		{[]string{"B-PER", "I-PER", "O", "B-LOC"}, []Chunk{{"PER", 0, 1}, {"LOC", 3, 3}}},
		{[]string{"B-PER", "B-PER"}, []Chunk{{"PER", 0, 0}, {"PER", 1, 1}}},
		{[]string{"O", "I-PER", "I-PER"}, []Chunk{{"PER", 1, 2}}},
		{[]string{"B-PER", "I-LOC"}, []Chunk{{"PER", 0, 0}, {"LOC", 1, 1}}},
		{[]string{"O", "O"}, nil},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Chunks(tc.seq), "Chunks(%v)", tc.seq)
	}
}

func TestTokenBased(t *testing.T) {
	trueTags := []string{"[CLS]", "O", "ORG", "ORG", "[SEP]", "[PAD]"}
	predTags := []string{"[CLS]", "O", "ORG", "PER", "[SEP]", "[CLS]"}
	got, err := TokenBased(trueTags, predTags, []string{"ORG", "PER"})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, strings.Repeat(" ", 14)+"precision    recall  f1-score   support", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "         ORG       1.00      0.50      0.67         2", lines[2])
	assert.Equal(t, "         PER       0.00      0.00      0.00         0", lines[3])
	assert.Equal(t, "", lines[4])
	assert.Equal(t, "   micro avg       0.50      0.50      0.50         2", lines[5])
	assert.Equal(t, "   macro avg       0.50      0.25      0.33         2", lines[6])
	assert.Equal(t, "weighted avg       1.00      0.50      0.67         2", lines[7])

	_, err = TokenBased(trueTags, predTags[:1], nil)
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	vocab := newVocab(t)
	flatTrue := []int32{1, 3, 4, 4, 2, 0}
	flatPred := []int32{1, 3, 4, 5, 2, 1}
	r, err := Build(vocab, 3, flatTrue, flatPred)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Epoch)
	assert.Contains(t, r.TokenBased, "         ORG       1.00      0.50      0.67         2\n")

	// True chunks: ORG[1,2]. Predicted: ORG[1,1], PER[2,2].
	assert.Contains(t, r.ChunkBased, "         ORG       0.00      0.00      0.00         1\n")
	assert.Contains(t, r.ChunkBased, "         PER       0.00      0.00      0.00         0\n")
	assert.Contains(t, r.ChunkBased, "   micro avg       0.00      0.00      0.00         1\n")

	s := r.String()
	assert.True(t, strings.HasPrefix(s, ">>> Epoch: 3\n"))
	assert.Contains(t, s, "--- chunk-based classification report ---")

	_, err = Build(vocab, 0, []int32{9}, []int32{1})
	assert.Error(t, err)
}

func TestChunkBasedPerfect(t *testing.T) {
	seq := AddBIO([]string{"O", "PER", "PER", "O", "LOC"})
	got, err := ChunkBased(seq, seq)
	require.NoError(t, err)
	assert.Contains(t, got, "         LOC       1.00      1.00      1.00         1\n")
	assert.Contains(t, got, "         PER       1.00      1.00      1.00         1\n")
	assert.Contains(t, got, "weighted avg       1.00      1.00      1.00         2\n")
}
