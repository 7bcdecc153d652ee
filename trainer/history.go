package trainer

import (
	"encoding/json"
	"time"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/gomlx/go-nerkit/metrics"
	"github.com/gomlx/go-nerkit/report"
	"github.com/pkg/errors"
)

// History collects the results of Fit. Entries are only appended, in training order.
type History struct {
	StepsPerEpoch int

	// Train has one record per training step, LearningRates the learning rate used at that step.
	Train         []*metrics.Record
	LearningRates []float64

	// Valid and Reports have one entry per epoch.
	Valid   []*metrics.Record
	Reports []*report.Report

	// BestEpoch is the epoch with the best monitored value, or the last epoch without early stopping.
	BestEpoch    int
	StoppedEarly bool
	Duration     time.Duration
}

// Epochs returns the number of completed epochs.
func (h *History) Epochs() int { return len(h.Valid) }

// historyJSON is the layout of the saved history: flat metric names per scope.
type historyJSON struct {
	StepsPerEpoch   int                  `json:"steps_per_epoch"`
	BatchTrain      []map[string]float64 `json:"batch_train"`
	LearningRates   []float64            `json:"learning_rates"`
	EpochValid      []map[string]float64 `json:"epoch_valid"`
	BestEpoch       int                  `json:"best_epoch"`
	StoppedEarly    bool                 `json:"stopped_early"`
	DurationSeconds float64              `json:"duration_seconds"`
}

func flatRecords(records []*metrics.Record) []map[string]float64 {
	flat := make([]map[string]float64, len(records))
	for i, r := range records {
		flat[i] = r.Flat()
	}
	return flat
}

// MarshalJSON encodes the metrics by their flat names; the reports are left out.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyJSON{
		StepsPerEpoch:   h.StepsPerEpoch,
		BatchTrain:      flatRecords(h.Train),
		LearningRates:   h.LearningRates,
		EpochValid:      flatRecords(h.Valid),
		BestEpoch:       h.BestEpoch,
		StoppedEarly:    h.StoppedEarly,
		DurationSeconds: h.Duration.Seconds(),
	})
}

// Save writes the history as indented JSON to path.
func (h *History) Save(path string) error {
	content, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding metrics history")
	}
	return files.WriteAtomic(path, content, 0644)
}
