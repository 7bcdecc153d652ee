package tracking

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskedCRC(t *testing.T) {
	// CRC32-C of "123456789" is 0xe3069283.
	crc := uint32(0xe3069283)
	want := ((crc >> 15) | (crc << 17)) + 0xa282ead8
	assert.Equal(t, want, maskedCRC([]byte("123456789")))
}

func TestStore(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "tracking"))
	require.NoError(t, err)

	run, err := store.StartRun("exp0", "run1")
	require.NoError(t, err)
	assert.Len(t, run.ID(), 32)
	assert.FileExists(t, filepath.Join(store.Root(), "exp0", "meta.yaml"))

	require.NoError(t, run.LogParams(map[string]any{"lr_max": 2e-5, "lr_schedule": "linear"}))
	require.NoError(t, run.LogParams(map[string]any{"lr_schedule": "cosine"}))
	require.NoError(t, run.LogMetrics(0, map[string]float64{"all_loss": 1.5, "all_acc": 0.25}))
	require.NoError(t, run.LogMetric("all_loss", 0.75, 1))
	require.NoError(t, run.LogArtifact("classification_report_epoch0.txt", []byte("report")))
	assert.Error(t, run.LogMetric("valid/all_loss", 1, 0))
	assert.Error(t, run.LogArtifact("../escape", nil))

	params, err := store.ReadParams("exp0", run.ID())
	require.NoError(t, err)
	assert.Equal(t, "cosine", params["lr_schedule"])
	assert.Equal(t, 2e-5, params["lr_max"])

	points, err := store.ReadMetric("exp0", run.ID(), "all_loss")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1.5, points[0].Value)
	assert.Equal(t, 0, points[0].Step)
	assert.Equal(t, 0.75, points[1].Value)
	assert.Equal(t, 1, points[1].Step)

	content, err := os.ReadFile(filepath.Join(run.Dir(), "artifacts", "classification_report_epoch0.txt"))
	require.NoError(t, err)
	assert.Equal(t, "report", string(content))

	require.NoError(t, run.End(StatusFinished))
	second, err := store.StartRun("exp0", "run2")
	require.NoError(t, err)
	assert.NotEqual(t, run.ID(), second.ID())

	runs, err := store.Runs("exp0")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byName := map[string]RunMeta{}
	for _, r := range runs {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusFinished, byName["run1"].Status)
	assert.NotZero(t, byName["run1"].EndTime)
	assert.Equal(t, StatusRunning, byName["run2"].Status)

	_, err = store.StartRun("../exp", "run")
	assert.Error(t, err)
}

func TestEventWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewEventWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.AddScalars(3, map[string]float64{"train/all_loss": 0.5, "train/learning_rate": 2e-5}))
	require.NoError(t, w.AddScalar("valid/all_f1_macro", 0.75, 10))
	require.NoError(t, w.Close())
	assert.Contains(t, filepath.Base(w.Path()), "events.out.tfevents.")

	events, err := ReadEvents(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, FileVersion, events[0].FileVersion)
	assert.Empty(t, events[0].Scalars)
	assert.Greater(t, events[0].WallTime, 0.0)

	assert.Equal(t, int64(3), events[1].Step)
	assert.Equal(t, float32(0.5), events[1].Scalars["train/all_loss"])
	assert.Equal(t, float32(2e-5), events[1].Scalars["train/learning_rate"])
	assert.Equal(t, int64(10), events[2].Step)
	assert.Equal(t, map[string]float32{"valid/all_f1_macro": 0.75}, events[2].Scalars)

	// A second writer in the same second doesn't clobber the first file.
	w2, err := NewEventWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
	assert.NotEqual(t, w.Path(), w2.Path())
}

func TestReadEventsCorrupted(t *testing.T) {
	w, err := NewEventWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.AddScalar("x", 1, 1))
	require.NoError(t, w.Close())

	content, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	firstLen := binary.LittleEndian.Uint64(content[:8])
	// Flip a byte of the second record's payload.
	content[int(firstLen)+16+12] ^= 0xff
	require.NoError(t, os.WriteFile(w.Path(), content, 0644))
	_, err = ReadEvents(w.Path())
	assert.Error(t, err)
}
