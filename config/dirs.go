package config

import (
	"os"
	"path/filepath"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/pkg/errors"
)

// Environment variables with the default directories.
const (
	EnvDatasets    = "DIR_DATASETS"
	EnvExperiments = "DIR_EXPERIMENTS"
	EnvTracking    = "DIR_TRACKING"
	EnvTensorBoard = "DIR_TENSORBOARD"
	EnvCheckpoints = "DIR_CHECKPOINTS"
)

// Dirs are the directories a run reads from and writes to.
type Dirs struct {
	Datasets    string
	Experiments string
	Tracking    string
	TensorBoard string
	Checkpoints string
}

// DirsFromEnv reads the directories from the environment. Unset variables default to
// sub-directories of the current directory: "datasets", "experiments", "tracking", "tensorboard"
// and "checkpoints".
func DirsFromEnv() Dirs {
	get := func(env, fallback string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		return fallback
	}
	return Dirs{
		Datasets:    get(EnvDatasets, "datasets"),
		Experiments: get(EnvExperiments, "experiments"),
		Tracking:    get(EnvTracking, "tracking"),
		TensorBoard: get(EnvTensorBoard, "tensorboard"),
		Checkpoints: get(EnvCheckpoints, "checkpoints"),
	}
}

// Resolve expands "~" and makes the directories absolute.
func (d Dirs) Resolve() (Dirs, error) {
	for _, dir := range []*string{&d.Datasets, &d.Experiments, &d.Tracking, &d.TensorBoard, &d.Checkpoints} {
		expanded, err := files.ReplaceTildeInDir(*dir)
		if err != nil {
			return d, err
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return d, errors.Wrapf(err, "resolving directory %q", expanded)
		}
		*dir = abs
	}
	return d, nil
}
