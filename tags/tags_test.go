package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary(t *testing.T) {
	v, err := NewDefault("O", "PER", "ORG", "LOC", "MISC")
	require.NoError(t, err)
	assert.Equal(t, 8, v.Len())
	assert.Equal(t, []string{"[PAD]", "[CLS]", "[SEP]", "O", "PER", "ORG", "LOC", "MISC"}, v.List())

	id, ok := v.ID("ORG")
	assert.True(t, ok)
	assert.Equal(t, 5, id)
	_, ok = v.ID("B-ORG")
	assert.False(t, ok)
	assert.Equal(t, "[CLS]", v.Tag(1))

	assert.Equal(t, []string{"PER", "ORG", "LOC", "MISC"}, v.Filtered())
	assert.Equal(t, []int{4, 5, 6, 7}, v.FilteredIDs())
	assert.True(t, v.IsMarker("[SEP]"))
	assert.True(t, v.IsMarker("[MASK]"))
	assert.False(t, v.IsMarker("O"))
}

func TestCustomMarkers(t *testing.T) {
	v, err := FromList([]string{"<pad>", "[CLS]", "[SEP]", "O", "PER"})
	require.NoError(t, err)
	assert.Equal(t, "<pad>", v.PadTag())
	assert.True(t, v.IsMarker("<pad>"))
	assert.Equal(t, []string{"PER"}, v.Filtered())
}

func TestVocabularyErrors(t *testing.T) {
	_, err := NewDefault("O", "PER", "O")
	assert.Error(t, err)
	_, err = NewDefault("")
	assert.Error(t, err)
	_, err = FromList([]string{"[PAD]"})
	assert.Error(t, err)
}
