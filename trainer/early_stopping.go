package trainer

import (
	"math"
	"strings"

	"github.com/gomlx/go-nerkit/metrics"
	"k8s.io/klog/v2"
)

// Early stopping modes.
const (
	ModeMin = "min"
	ModeMax = "max"
)

// MonitorValidLoss is the monitor name of the validation loss.
const MonitorValidLoss = "val_loss"

type earlyStopping struct {
	monitor  string
	minDelta float64
	patience int
	mode     string

	best      float64
	bestEpoch int
	wait      int
}

func newEarlyStopping(cfg Config) *earlyStopping {
	es := &earlyStopping{
		monitor:  cfg.Monitor,
		minDelta: math.Abs(cfg.MinDelta),
		patience: cfg.Patience,
		mode:     cfg.Mode,
		best:     math.Inf(1),
	}
	if es.mode == ModeMax {
		es.best = math.Inf(-1)
	}
	return es
}

// monitored returns the monitored value in the validation record. Metrics over an empty set of
// labels are omitted from the record, so a missing value is not an error.
func (es *earlyStopping) monitored(record *metrics.Record) (float64, bool) {
	if es.monitor == MonitorValidLoss {
		return record.Get(metrics.Key{Group: metrics.All, Kind: metrics.Loss})
	}
	return record.Lookup(strings.TrimPrefix(es.monitor, "val_"))
}

// update takes the validation record of epoch and reports whether training should stop.
// Epochs without the monitored value are skipped: they neither improve nor count towards patience.
func (es *earlyStopping) update(epoch int, record *metrics.Record) bool {
	if es.patience <= 0 {
		es.bestEpoch = epoch
		return false
	}
	v, found := es.monitored(record)
	if !found {
		klog.Warningf("early stopping: %q not in the validation metrics of epoch %d, skipping it", es.monitor, epoch)
		return false
	}
	improved := v < es.best-es.minDelta
	if es.mode == ModeMax {
		improved = v > es.best+es.minDelta
	}
	if improved {
		es.best, es.bestEpoch, es.wait = v, epoch, 0
		return false
	}
	es.wait++
	return es.wait >= es.patience
}
