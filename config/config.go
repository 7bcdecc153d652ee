// Package config loads experiment files: YAML documents with the shared "params" and "hparams" of an
// experiment and a "runs" section overriding them per run.
//
//	params:
//	  pretrained_model_name: KB/bert-base-swedish-cased
//	  dataset_name: swedish_ner_corpus
//	hparams:
//	  max_epochs: 3
//	  lr_max: 2.0e-5
//	runs:
//	  run1: {lr_schedule: constant}
//	  run2: {lr_schedule: cosine, lr_num_cycles: 1}
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned for parameters that are neither a Params nor an HParams key.
var ErrUnknownKey = errors.New("unknown parameter")

// ErrUnknownRun is returned when a requested run is not in the experiment file.
var ErrUnknownRun = errors.New("unknown run")

// Params configures the data and the bookkeeping of a run.
type Params struct {
	PretrainedModelName string  `yaml:"pretrained_model_name"`
	Uncased             bool    `yaml:"uncased"`
	DatasetName         string  `yaml:"dataset_name"`
	PruneRatioTrain     float64 `yaml:"prune_ratio_train"`
	PruneRatioValid     float64 `yaml:"prune_ratio_valid"`
	PruneRatioTest      float64 `yaml:"prune_ratio_test"`
	Checkpoints         bool    `yaml:"checkpoints"`
	LoggingLevel        string  `yaml:"logging_level"`
}

// ParamKeys are the YAML keys of Params.
var ParamKeys = []string{
	"pretrained_model_name", "uncased", "dataset_name",
	"prune_ratio_train", "prune_ratio_valid", "prune_ratio_test",
	"checkpoints", "logging_level",
}

// HParams are the training hyperparameters of a run.
type HParams struct {
	BatchSize    int `yaml:"batch_size"`
	MaxSeqLength int `yaml:"max_seq_length"`
	MaxEpochs    int `yaml:"max_epochs"`

	// Early stopping: Monitor is a metric name ("val_loss" or e.g. "fil_f1_micro"), Mode is "min" or "max".
	Monitor  string  `yaml:"monitor"`
	MinDelta float64 `yaml:"min_delta"`
	Patience int     `yaml:"patience"`
	Mode     string  `yaml:"mode"`

	LRMax          float64 `yaml:"lr_max"`
	LRSchedule     string  `yaml:"lr_schedule"`
	LRWarmupEpochs int     `yaml:"lr_warmup_epochs"`
	LRNumCycles    float64 `yaml:"lr_num_cycles"`
}

// HParamKeys are the YAML keys of HParams.
var HParamKeys = []string{
	"batch_size", "max_seq_length", "max_epochs",
	"monitor", "min_delta", "patience", "mode",
	"lr_max", "lr_schedule", "lr_warmup_epochs", "lr_num_cycles",
}

// DefaultParams are used for keys not set by the experiment.
func DefaultParams() Params {
	return Params{
		PretrainedModelName: "bert-base-cased",
		DatasetName:         "conll2003",
		LoggingLevel:        "info",
	}
}

// DefaultHParams are used for keys not set by the experiment.
func DefaultHParams() HParams {
	return HParams{
		BatchSize:    16,
		MaxSeqLength: 64,
		MaxEpochs:    2,
		Monitor:      "val_loss",
		Patience:     0,
		Mode:         "min",
		LRMax:        2e-5,
		LRSchedule:   "constant",
	}
}

// Run is the fully resolved configuration of one run of an experiment.
type Run struct {
	Experiment string
	Name       string
	Params     Params
	HParams    HParams
}

// ExperimentRunName identifies the run across experiments, e.g. "exp0/run1".
func (r *Run) ExperimentRunName() string { return r.Experiment + "/" + r.Name }

// Experiment is a parsed experiment file.
type Experiment struct {
	Name    string
	Params  map[string]any
	HParams map[string]any

	// Runs in file order.
	Runs []Run
}

type experimentFile struct {
	Params  map[string]any `yaml:"params"`
	HParams map[string]any `yaml:"hparams"`
	Runs    yaml.Node      `yaml:"runs"`
}

// Load reads the experiment file "<name>.yaml" (or ".yml") from dir.
func Load(dir, name string) (*Experiment, error) {
	var path string
	for _, ext := range []string{".yaml", ".yml"} {
		path = filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			break
		}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading experiment %q", name)
	}
	exp, err := Parse(name, content)
	if err != nil {
		return nil, errors.WithMessagef(err, "experiment file %q", path)
	}
	return exp, nil
}

// Parse parses the content of an experiment file. Each run starts from the experiment's params and
// hparams (on top of the defaults) and overrides the keys it sets.
func Parse(name string, content []byte) (*Experiment, error) {
	var f experimentFile
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "parsing experiment YAML")
	}
	for key := range f.Params {
		if !slices.Contains(ParamKeys, key) {
			return nil, errors.Wrapf(ErrUnknownKey, "%q in params", key)
		}
	}
	for key := range f.HParams {
		if !slices.Contains(HParamKeys, key) {
			return nil, errors.Wrapf(ErrUnknownKey, "%q in hparams", key)
		}
	}
	exp := &Experiment{Name: name, Params: f.Params, HParams: f.HParams}

	if f.Runs.Kind == 0 {
		// No runs section: a single run with the experiment's values.
		run, err := resolveRun(name, "run0", f.Params, f.HParams, nil)
		if err != nil {
			return nil, err
		}
		exp.Runs = []Run{run}
		return exp, nil
	}
	if f.Runs.Kind != yaml.MappingNode {
		return nil, errors.Errorf("runs must be a mapping of run name to overrides, line %d", f.Runs.Line)
	}
	for i := 0; i+1 < len(f.Runs.Content); i += 2 {
		runName := f.Runs.Content[i].Value
		var overrides map[string]any
		if err := f.Runs.Content[i+1].Decode(&overrides); err != nil {
			return nil, errors.Wrapf(err, "parsing run %q", runName)
		}
		run, err := resolveRun(name, runName, f.Params, f.HParams, overrides)
		if err != nil {
			return nil, err
		}
		exp.Runs = append(exp.Runs, run)
	}
	return exp, nil
}

// Run returns the named run.
func (e *Experiment) Run(name string) (*Run, error) {
	for i := range e.Runs {
		if e.Runs[i].Name == name {
			return &e.Runs[i], nil
		}
	}
	names := make([]string, len(e.Runs))
	for i, r := range e.Runs {
		names[i] = r.Name
	}
	return nil, errors.Wrapf(ErrUnknownRun, "%q in experiment %q (runs: %v)", name, e.Name, names)
}

// Select returns all runs if runName is empty, otherwise only the named one.
func (e *Experiment) Select(runName string) ([]Run, error) {
	if runName == "" {
		return e.Runs, nil
	}
	run, err := e.Run(runName)
	if err != nil {
		return nil, err
	}
	return []Run{*run}, nil
}

func resolveRun(experiment, name string, params, hparams, overrides map[string]any) (Run, error) {
	runParams := cloneMap(params)
	runHParams := cloneMap(hparams)
	for key, value := range overrides {
		switch {
		case slices.Contains(ParamKeys, key):
			runParams[key] = value
		case slices.Contains(HParamKeys, key):
			runHParams[key] = value
		default:
			return Run{}, errors.Wrapf(ErrUnknownKey, "%q in run %q", key, name)
		}
	}
	run := Run{Experiment: experiment, Name: name, Params: DefaultParams(), HParams: DefaultHParams()}
	if err := decodeInto(runParams, &run.Params); err != nil {
		return Run{}, errors.WithMessagef(err, "params of run %q", name)
	}
	if err := decodeInto(runHParams, &run.HParams); err != nil {
		return Run{}, errors.WithMessagef(err, "hparams of run %q", name)
	}
	return run, nil
}

// decodeInto converts values to the typed fields of target by a YAML round trip.
func decodeInto(values map[string]any, target any) error {
	content, err := yaml.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "encoding parameters")
	}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return errors.Wrap(err, "decoding parameters")
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Flat returns the run's parameters keyed by their YAML names, plus "run_name" and
// "experiment_run_name", for experiment trackers.
func (r *Run) Flat() (map[string]any, error) {
	flat := map[string]any{
		"run_name":            r.Name,
		"experiment_run_name": r.ExperimentRunName(),
	}
	for _, section := range []any{r.Params, r.HParams} {
		content, err := yaml.Marshal(section)
		if err != nil {
			return nil, errors.Wrap(err, "encoding run parameters")
		}
		var values map[string]any
		if err := yaml.Unmarshal(content, &values); err != nil {
			return nil, errors.Wrap(err, "decoding run parameters")
		}
		for k, v := range values {
			flat[k] = v
		}
	}
	return flat, nil
}
