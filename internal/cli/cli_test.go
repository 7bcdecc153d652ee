package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-nerkit/dataset"
	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/gomlx/go-nerkit/models/tokenlinear"
	"github.com/gomlx/go-nerkit/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trainTSV = "labels\ttext\n" +
		"O B-ORG\tat Arbetsformedlingen\n" +
		"B-PER O B-LOC\tAnna bor Stockholm\n" +
		"B-ORG O\tSaab sager\n"
	validTSV = "labels\ttext\n" +
		"B-PER O B-ORG\tAnna bor Arbetsformedlingen\n"
	vocabTxt = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nat\nArbets\n##formedlingen\nAnna\nbor\nStockholm\nSaab\nsager\n"

	experimentYAML = `
params:
  dataset_name: swedish_ner_corpus
  checkpoints: true
hparams:
  batch_size: 2
  max_seq_length: 8
  max_epochs: 2
  lr_max: 0.5
runs:
  run1:
    lr_schedule: linear
  run2:
    max_epochs: 1
`
)

type testEnv struct {
	root, datasets, experiments, tracking, tensorboard, checkpoints, vocab string
}

func newTestEnv(t *testing.T) *testEnv {
	root := t.TempDir()
	env := &testEnv{
		root:        root,
		datasets:    filepath.Join(root, "datasets"),
		experiments: filepath.Join(root, "experiments"),
		tracking:    filepath.Join(root, "tracking"),
		tensorboard: filepath.Join(root, "tensorboard"),
		checkpoints: filepath.Join(root, "checkpoints"),
		vocab:       filepath.Join(root, "vocab.txt"),
	}
	corpusDir := filepath.Join(env.datasets, "swedish_ner_corpus")
	for path, content := range map[string]string{
		filepath.Join(corpusDir, "train.csv"):       trainTSV,
		filepath.Join(corpusDir, "valid.csv"):       validTSV,
		filepath.Join(env.experiments, "exp0.yaml"): experimentYAML,
	} {
		require.NoError(t, files.WriteAtomic(path, []byte(content), 0644))
	}
	require.NoError(t, os.WriteFile(env.vocab, []byte(vocabTxt), 0644))
	return env
}

// execute runs the command line with args and returns its output.
func (env *testEnv) execute(t *testing.T, args ...string) (string, error) {
	c := New("test")
	var out bytes.Buffer
	c.out = &out
	c.rootCmd.SetOut(&out)
	c.rootCmd.SetArgs(append(args,
		"--dir-datasets", env.datasets,
		"--dir-experiments", env.experiments,
		"--dir-tracking", env.tracking,
		"--dir-tensorboard", env.tensorboard,
		"--dir-checkpoints", env.checkpoints,
	))
	err := c.Run()
	return out.String(), err
}

func TestTagMappingAndDatasets(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "tag-mapping", "--dataset", "swedish_ner_corpus")
	require.NoError(t, err)
	mapping, err := dataset.LoadTagMapping(filepath.Join(env.datasets, "swedish_ner_corpus", dataset.TagMappingFile))
	require.NoError(t, err)
	assert.Equal(t, "PER", mapping["B-PER"])
	assert.Equal(t, []string{"O", "LOC", "ORG", "PER"}, mapping.ModelTags())

	out, err := env.execute(t, "datasets")
	require.NoError(t, err)
	assert.Equal(t, "swedish_ner_corpus\n", out)

	_, err = env.execute(t, "tag-mapping", "--dataset", "imaginary")
	assert.ErrorIs(t, err, dataset.ErrUnknownDataset)
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "run", "--experiment", "exp0", "--tokenizer-file", env.vocab)
	require.NoError(t, err)
	assert.Contains(t, out, "exp0/run1")
	assert.Contains(t, out, "exp0/run2")
	assert.Contains(t, out, "fil_f1_micro")

	store, err := tracking.NewStore(env.tracking)
	require.NoError(t, err)
	runs, err := store.Runs("exp0")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	epochs := map[string]int{"run1": 2, "run2": 1}
	for _, run := range runs {
		assert.Equal(t, tracking.StatusFinished, run.Status)
		points, err := store.ReadMetric("exp0", run.ID, "all_loss")
		require.NoError(t, err)
		assert.Len(t, points, epochs[run.Name], run.Name)

		params, err := store.ReadParams("exp0", run.ID)
		require.NoError(t, err)
		assert.Equal(t, "exp0/"+run.Name, params["experiment_run_name"])

		content, err := os.ReadFile(filepath.Join(store.Root(), "exp0", run.ID, "artifacts", "classification_report.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "--- token-based classification report ---")
	}

	eventFiles, err := filepath.Glob(filepath.Join(env.tensorboard, "exp0", "run1", "events.out.tfevents.*"))
	require.NoError(t, err)
	require.Len(t, eventFiles, 1)
	events, err := tracking.ReadEvents(eventFiles[0])
	require.NoError(t, err)
	// File version, 2 epochs of 2 train batches and 1 validation event.
	assert.Len(t, events, 7)

	model, err := tokenlinear.Load(filepath.Join(env.checkpoints, "saved__swedish_ner_corpus__bert-base-cased__2__0__linear.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, 13, model.Config().VocabSize)
	assert.True(t, files.Exists(filepath.Join(env.checkpoints, "metrics__swedish_ner_corpus__bert-base-cased__1__0__constant.json")))

	out, err = env.execute(t, "runs", "--experiment", "exp0")
	require.NoError(t, err)
	assert.Contains(t, out, "run1")
	assert.Contains(t, out, tracking.StatusFinished)
}

func TestRunErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "run", "--experiment", "missing", "--tokenizer-file", env.vocab)
	assert.Error(t, err)
	_, err = env.execute(t, "run", "--experiment", "exp0", "--run", "run9", "--tokenizer-file", env.vocab)
	assert.Error(t, err)
	_, err = env.execute(t, "run")
	assert.Error(t, err, "--experiment is required")
}

func TestRunFailedStatus(t *testing.T) {
	env := newTestEnv(t)
	// A file in place of the experiment's event directory fails the run after it started tracking.
	require.NoError(t, files.WriteAtomic(filepath.Join(env.tensorboard, "exp0"), []byte("not a directory"), 0644))
	_, err := env.execute(t, "run", "--experiment", "exp0", "--run", "run1", "--tokenizer-file", env.vocab)
	require.Error(t, err)

	store, err := tracking.NewStore(env.tracking)
	require.NoError(t, err)
	runs, err := store.Runs("exp0")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run1", runs[0].Name)
	assert.Equal(t, tracking.StatusFailed, runs[0].Status)
}
