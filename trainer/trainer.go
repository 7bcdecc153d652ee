// Package trainer runs the epoch loop of a token-classification model: training steps with a
// learning rate schedule, validation after each epoch, metrics, classification reports and
// early stopping.
//
// Results are sent to an optional Tracker (e.g. a tracking.Run) and an optional ScalarWriter
// (e.g. a tracking.EventWriter), and collected in a History.
package trainer

import (
	"context"
	"time"

	"github.com/gomlx/go-nerkit/encoding"
	"github.com/gomlx/go-nerkit/metrics"
	"github.com/gomlx/go-nerkit/models"
	"github.com/gomlx/go-nerkit/report"
	"github.com/gomlx/go-nerkit/schedule"
	"github.com/gomlx/go-nerkit/tags"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tracker receives epoch metrics and the classification reports.
type Tracker interface {
	LogMetrics(step int, values map[string]float64) error
	LogArtifact(name string, content []byte) error
}

// ScalarWriter receives scalar series, keyed by "<phase>/<metric>".
type ScalarWriter interface {
	AddScalars(step int64, values map[string]float64) error
}

// ReportArtifact is the name of the tracker artifact with the classification report of the last epoch.
const ReportArtifact = "classification_report.txt"

// LearningRateTag is the scalar series with the learning rate of each training step.
const LearningRateTag = "train/learning_rate"

// Config of a Trainer.
type Config struct {
	MaxEpochs int

	// LRMax is the peak learning rate, scaled by Schedule at each step. A nil Schedule is constant.
	LRMax    float64
	Schedule schedule.Schedule

	// Early stopping: Monitor is "val_loss" or a metric name of the epoch validation record
	// (e.g. "fil_f1_micro"); Mode is "min" or "max". Patience <= 0 disables it.
	Monitor  string
	MinDelta float64
	Patience int
	Mode     string

	// CheckpointPath, if set, is where the model is saved after training. The model must implement
	// models.Saver.
	CheckpointPath string

	// HistoryPath, if set, is where the metrics history is written as JSON after training.
	HistoryPath string
}

// Trainer fits a model. Create it with New.
type Trainer struct {
	model      models.Model
	vocab      *tags.Vocabulary
	aggregator *metrics.Aggregator
	cfg        Config

	tracker Tracker
	scalars ScalarWriter

	history *History
}

// New creates a Trainer for model, whose label ids are given by vocab.
func New(model models.Model, vocab *tags.Vocabulary, aggregator *metrics.Aggregator, cfg Config) (*Trainer, error) {
	if model == nil || vocab == nil || aggregator == nil {
		return nil, errors.New("trainer needs a model, a label vocabulary and a metrics aggregator")
	}
	if cfg.MaxEpochs <= 0 {
		return nil, errors.Errorf("invalid max epochs %d", cfg.MaxEpochs)
	}
	if cfg.Schedule == nil {
		cfg.Schedule = schedule.Constant{}
	}
	if cfg.Patience > 0 {
		if cfg.Mode != ModeMin && cfg.Mode != ModeMax {
			return nil, errors.Errorf("invalid early stopping mode %q, want %q or %q", cfg.Mode, ModeMin, ModeMax)
		}
		if cfg.Monitor == "" {
			return nil, errors.New("early stopping needs a monitored metric")
		}
	}
	if cfg.CheckpointPath != "" {
		if _, ok := model.(models.Saver); !ok {
			return nil, errors.Errorf("model %T can't save checkpoints", model)
		}
	}
	return &Trainer{model: model, vocab: vocab, aggregator: aggregator, cfg: cfg}, nil
}

// WithTracker sets the tracker that receives the epoch metrics and reports. It returns the Trainer itself.
func (t *Trainer) WithTracker(tracker Tracker) *Trainer {
	t.tracker = tracker
	return t
}

// WithScalars sets the writer of the scalar series. It returns the Trainer itself.
func (t *Trainer) WithScalars(w ScalarWriter) *Trainer {
	t.scalars = w
	return t
}

// History of the last Fit, nil before Fit is called.
func (t *Trainer) History() *History { return t.history }

// Fit trains on the train batches for up to MaxEpochs epochs, validating after each one.
// It returns the history even when an error interrupts it.
func (t *Trainer) Fit(ctx context.Context, train, valid []*encoding.Batch) (*History, error) {
	if len(train) == 0 || len(valid) == 0 {
		return nil, errors.Errorf("need train and validation batches, got %d and %d", len(train), len(valid))
	}
	t.history = &History{StepsPerEpoch: len(train)}
	stopper := newEarlyStopping(t.cfg)
	start := time.Now()

	for epoch := range t.cfg.MaxEpochs {
		klog.Infof(">>> Epoch: %d", epoch)
		if err := t.trainEpoch(ctx, epoch, train); err != nil {
			return t.history, err
		}
		record, err := t.validate(ctx, epoch, valid)
		if err != nil {
			return t.history, err
		}
		stop := stopper.update(epoch, record)
		t.history.BestEpoch = stopper.bestEpoch
		if stop {
			klog.Infof("early stopping after epoch %d: %s did not improve for %d epochs (best at epoch %d)",
				epoch, t.cfg.Monitor, t.cfg.Patience, stopper.bestEpoch)
			t.history.StoppedEarly = true
			break
		}
	}
	t.history.Duration = time.Since(start)
	klog.Infof("train & validate time for %d epochs: %.2fs", len(t.history.Valid), t.history.Duration.Seconds())

	if t.tracker != nil {
		if err := t.tracker.LogMetrics(len(t.history.Valid), map[string]float64{"time": t.history.Duration.Seconds()}); err != nil {
			return t.history, err
		}
	}
	if t.cfg.CheckpointPath != "" {
		if err := t.model.(models.Saver).Save(t.cfg.CheckpointPath); err != nil {
			return t.history, err
		}
		klog.Infof("checkpoint saved at %q", t.cfg.CheckpointPath)
	}
	if t.cfg.HistoryPath != "" {
		if err := t.history.Save(t.cfg.HistoryPath); err != nil {
			return t.history, err
		}
		klog.Infof("metrics saved at %q", t.cfg.HistoryPath)
	}
	return t.history, nil
}

// globalStep of a training batch.
func (t *Trainer) globalStep(epoch, batchIdx int) int {
	return epoch*t.history.StepsPerEpoch + batchIdx
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int, batches []*encoding.Batch) error {
	scope := metrics.Scope{Size: metrics.Batch, Phase: metrics.Train}
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "training interrupted at epoch %d, batch %d", epoch, i)
		}
		step := t.globalStep(epoch, i)
		lr := schedule.LearningRate(t.cfg.Schedule, t.cfg.LRMax, step)
		out, err := t.model.TrainStep(batch, lr)
		if err != nil {
			return errors.WithMessagef(err, "training step at epoch %d, batch %d", epoch, i)
		}
		flatTrue, flatPred, err := metrics.FlattenTensors(batch.Tensors().LabelIDs, out.Logits)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d, batch %d", epoch, i)
		}
		record, err := t.aggregator.Compute(scope, out.Loss, flatTrue, flatPred)
		if err != nil {
			return err
		}
		t.history.Train = append(t.history.Train, record)
		t.history.LearningRates = append(t.history.LearningRates, lr)
		if klog.V(1).Enabled() {
			klog.Infof("batch #%d train loss: %.4f, learning rate: %.2e", i, out.Loss, lr)
		}
		if err := t.writeScalars(metrics.Train, record, step, &lr); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) validate(ctx context.Context, epoch int, batches []*encoding.Batch) (*metrics.Record, error) {
	var (
		lossSum            float64
		flatTrue, flatPred []int32
	)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "validation interrupted at epoch %d, batch %d", epoch, i)
		}
		out, err := t.model.Predict(batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "validation at epoch %d, batch %d", epoch, i)
		}
		lossSum += out.Loss
		batchTrue, batchPred, err := metrics.FlattenTensors(batch.Tensors().LabelIDs, out.Logits)
		if err != nil {
			return nil, errors.WithMessagef(err, "validation at epoch %d, batch %d", epoch, i)
		}
		flatTrue = append(flatTrue, batchTrue...)
		flatPred = append(flatPred, batchPred...)
	}
	loss := lossSum / float64(len(batches))

	record, err := t.aggregator.Compute(metrics.Scope{Size: metrics.Epoch, Phase: metrics.Valid}, loss, flatTrue, flatPred)
	if err != nil {
		return nil, err
	}
	t.history.Valid = append(t.history.Valid, record)
	logSummary(epoch, record)

	if err := t.writeScalars(metrics.Valid, record, t.globalStep(epoch, t.history.StepsPerEpoch-1), nil); err != nil {
		return nil, err
	}
	rep, err := report.Build(t.vocab, epoch, flatTrue, flatPred)
	if err != nil {
		return nil, err
	}
	t.history.Reports = append(t.history.Reports, rep)
	klog.V(1).Infof("classification report:\n%s", rep)
	if t.tracker != nil {
		if err := t.tracker.LogMetrics(epoch, record.Flat()); err != nil {
			return nil, err
		}
		if err := t.tracker.LogArtifact(ReportArtifact, []byte(rep.String())); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// writeScalars writes the record as "<phase>/<metric>" series, plus the learning rate if given.
func (t *Trainer) writeScalars(phase metrics.Phase, record *metrics.Record, step int, lr *float64) error {
	if t.scalars == nil {
		return nil
	}
	values := make(map[string]float64, len(record.Values)+1)
	for name, v := range record.Flat() {
		values[phase.String()+"/"+name] = v
	}
	if lr != nil {
		values[LearningRateTag] = *lr
	}
	return t.scalars.AddScalars(int64(step), values)
}

// summaryKeys are the validation metrics logged at the end of each epoch.
var summaryKeys = []metrics.Key{
	{Group: metrics.All, Kind: metrics.Loss},
	{Group: metrics.All, Kind: metrics.Accuracy},
	{Group: metrics.All, Kind: metrics.F1, Average: metrics.Macro},
	{Group: metrics.All, Kind: metrics.F1, Average: metrics.Micro},
	{Group: metrics.Filtered, Kind: metrics.F1, Average: metrics.Macro},
	{Group: metrics.Filtered, Kind: metrics.F1, Average: metrics.Micro},
}

func logSummary(epoch int, record *metrics.Record) {
	for _, key := range summaryKeys {
		if v, ok := record.Get(key); ok {
			klog.Infof("Epoch #%d valid %-16s %.4f", epoch, key.String()+":", v)
		}
	}
}
