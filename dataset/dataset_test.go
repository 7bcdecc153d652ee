package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainTSV = "labels\ttext\n" +
	"O ORG\tat Arbetsförmedlingen\n" +
	"PER O LOC\tAnna bor Stockholm\n"

const validTSV = "labels\ttext\n" +
	"ORG* O\tSaab säger\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewExample(t *testing.T) {
	ex, err := NewExample("train-0", "at arbetsförmedlingen", "O ORG")
	require.NoError(t, err)
	assert.Equal(t, []string{"at", "arbetsförmedlingen"}, ex.TextA)
	assert.Equal(t, []string{"O", "ORG"}, ex.LabelsA)
	assert.False(t, ex.HasSegmentB())

	_, err = NewExample("train-1", "at arbetsförmedlingen", "O")
	assert.Error(t, err)
}

func TestReadTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	writeFile(t, path, trainTSV)

	examples, err := ReadTSV(path, "train", true)
	require.NoError(t, err)
	require.Len(t, examples, 2)
	assert.Equal(t, "train-1", examples[1].GUID)
	assert.Equal(t, []string{"anna", "bor", "stockholm"}, examples[1].TextA)
	assert.Equal(t, []string{"PER", "O", "LOC"}, examples[1].LabelsA)

	writeFile(t, path, "labels\ttext\nO O\tonly-one-word\n")
	_, err = ReadTSV(path, "train", false)
	assert.Error(t, err)
}

func TestParquetRoundTrip(t *testing.T) {
	classNames := []string{"O", "B-PER", "I-PER", "B-LOC"}
	path := filepath.Join(t.TempDir(), "train.parquet")
	in := []Example{
		{GUID: "a", TextA: []string{"Anna", "Karlsson", "bor"}, LabelsA: []string{"B-PER", "I-PER", "O"}},
		{GUID: "b", TextA: []string{"Lund"}, LabelsA: []string{"B-LOC"}},
	}
	require.NoError(t, WriteParquet(path, in, classNames))

	out, err := ReadParquet(path, "train", classNames, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "train-a", out[0].GUID)
	assert.Equal(t, in[0].TextA, out[0].TextA)
	assert.Equal(t, in[0].LabelsA, out[0].LabelsA)
	assert.Equal(t, in[1].LabelsA, out[1].LabelsA)

	_, err = ReadParquet(path, "train", classNames[:2], false)
	assert.Error(t, err)
	assert.Error(t, WriteParquet(path, in, []string{"O"}))
}

func TestTagMapping(t *testing.T) {
	examples := []Example{
		{TextA: []string{"a", "b", "c"}, LabelsA: []string{"B-PER", "I-PER", "O"}},
		{TextA: []string{"d"}, LabelsA: []string{"ORG*"}},
	}
	withoutTags := CreateTagMapping(false, examples)
	assert.Equal(t, TagMapping{"B-PER": "PER", "I-PER": "PER", "O": "O", "ORG*": "ORG"}, withoutTags)
	assert.Equal(t, []string{"O", "ORG", "PER"}, withoutTags.ModelTags())

	withTags := CreateTagMapping(true, examples)
	assert.Equal(t, "B-PER", withTags["B-PER"])

	path := filepath.Join(t.TempDir(), TagMappingFile)
	require.NoError(t, withoutTags.Save(path))
	loaded, err := LoadTagMapping(path)
	require.NoError(t, err)
	assert.Equal(t, withoutTags, loaded)

	require.NoError(t, loaded.Apply(examples))
	assert.Equal(t, []string{"PER", "PER", "O"}, examples[0].LabelsA)
	assert.Error(t, loaded.Apply([]Example{{TextA: []string{"x"}, LabelsA: []string{"MISC"}}}))

	vocab, err := loaded.Vocabulary()
	require.NoError(t, err)
	assert.Equal(t, []string{"[PAD]", "[CLS]", "[SEP]", "O", "ORG", "PER"}, vocab.List())
}

func TestPrune(t *testing.T) {
	examples := make([]Example, 10)
	assert.Len(t, Prune(examples, 0.25), 2)
	assert.Len(t, Prune(examples, 0.01), 1)
	assert.Len(t, Prune(examples, 1), 10)
	assert.Empty(t, Prune(nil, 0.5))
}

func TestPathAndLoad(t *testing.T) {
	root := t.TempDir()
	_, err := Path(root, "imaginary")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDataset))

	dir, err := Path(root, "swedish_ner_corpus")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	writeFile(t, filepath.Join(dir, "train.csv"), trainTSV)
	writeFile(t, filepath.Join(dir, "valid.csv"), validTSV)

	available, err := Available(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"swedish_ner_corpus"}, available)

	splits, err := ReadSplits(dir, false)
	require.NoError(t, err)
	assert.Len(t, splits.Train, 2)
	assert.Len(t, splits.Valid, 1)
	assert.Nil(t, splits.Test)

	corpus, err := Load(dir, LoadOptions{PruneTrain: 0.5})
	require.NoError(t, err)
	assert.Len(t, corpus.Train, 1)
	assert.Len(t, corpus.Valid, 1)
	assert.Empty(t, corpus.Test)
	assert.Equal(t, []string{"ORG", "O"}, corpus.Valid[0].LabelsA)
	assert.Equal(t, []string{"[PAD]", "[CLS]", "[SEP]", "O", "LOC", "ORG", "PER"}, corpus.Vocabulary.List())

	_, err = Load(t.TempDir(), LoadOptions{})
	assert.Error(t, err)
}
