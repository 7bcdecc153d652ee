package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/gomlx/go-nerkit/config"
	"github.com/gomlx/go-nerkit/dataset"
	"github.com/gomlx/go-nerkit/encoding"
	"github.com/gomlx/go-nerkit/hub"
	"github.com/gomlx/go-nerkit/metrics"
	"github.com/gomlx/go-nerkit/models/tokenlinear"
	"github.com/gomlx/go-nerkit/schedule"
	"github.com/gomlx/go-nerkit/tokenizers"
	"github.com/gomlx/go-nerkit/tracking"
	"github.com/gomlx/go-nerkit/trainer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

type runOptions struct {
	experiment    string
	run           string
	tokenizerFile string
	seed          uint64
}

func (c *CLI) newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train and validate the runs of an experiment",
		Args:  cobra.NoArgs,
		Example: `  nerkit run --experiment exp0
  nerkit run --experiment exp0 --run run1 -v=1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExperiment(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.experiment, "experiment", "", "Experiment file name, without extension, in the experiments directory")
	cmd.Flags().StringVar(&opts.run, "run", "", "Run to execute; all runs of the experiment if empty")
	cmd.Flags().StringVar(&opts.tokenizerFile, "tokenizer-file", "",
		"Local tokenizer file (tokenizer.json, tokenizer.model or vocab.txt) instead of downloading the pretrained model's")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "Seed of the model initialization and of the shuffling of the training data")
	_ = cmd.MarkFlagRequired("experiment")
	return cmd
}

func (c *CLI) runExperiment(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dirs, err := c.resolvedDirs()
	if err != nil {
		return err
	}
	exp, err := config.Load(dirs.Experiments, opts.experiment)
	if err != nil {
		return err
	}
	runs, err := exp.Select(opts.run)
	if err != nil {
		return err
	}
	for _, run := range runs {
		klog.Infof("starting run %s", run.ExperimentRunName())
		history, err := c.fitRun(ctx, dirs, run, opts)
		if err != nil {
			return errors.WithMessagef(err, "run %s", run.ExperimentRunName())
		}
		fmt.Fprintln(c.out, summaryTable(run.ExperimentRunName(), history))
	}
	return nil
}

// vocabSizer is implemented by tokenizers that know their vocabulary size.
type vocabSizer interface {
	VocabSize() int
}

func (c *CLI) loadTokenizer(run config.Run, opts runOptions) (tokenizers.Tokenizer, error) {
	if opts.tokenizerFile != "" {
		return tokenizers.NewFromFile(opts.tokenizerFile, run.Params.Uncased)
	}
	repo := hub.New(run.Params.PretrainedModelName).WithAuth(os.Getenv("HF_TOKEN"))
	return tokenizers.New(repo, run.Params.Uncased)
}

// artifactName is the file name prefix of the checkpoint and metrics history of a run.
func artifactName(run config.Run) string {
	return fmt.Sprintf("%s__%s__%d__%s__%s", run.Params.DatasetName, path.Base(run.Params.PretrainedModelName),
		run.HParams.MaxEpochs, strconv.FormatFloat(run.Params.PruneRatioTrain, 'g', -1, 64), run.HParams.LRSchedule)
}

// fitRun loads the data of the run, trains the model and records the results.
func (c *CLI) fitRun(ctx context.Context, dirs config.Dirs, run config.Run, opts runOptions) (history *trainer.History, err error) {
	p, hp := run.Params, run.HParams
	if p.LoggingLevel == "debug" && !klog.V(1).Enabled() {
		if err := c.klogFlags.Set("v", "1"); err != nil {
			return nil, errors.Wrap(err, "setting log verbosity")
		}
	}

	// Data.
	datasetDir, err := dataset.Path(dirs.Datasets, p.DatasetName)
	if err != nil {
		return nil, err
	}
	corpus, err := dataset.Load(datasetDir, dataset.LoadOptions{
		Lowercase:  p.Uncased,
		PruneTrain: p.PruneRatioTrain,
		PruneValid: p.PruneRatioValid,
		PruneTest:  p.PruneRatioTest,
	})
	if err != nil {
		return nil, err
	}
	tok, err := c.loadTokenizer(run, opts)
	if err != nil {
		return nil, err
	}
	enc, err := encoding.New(tok, corpus.Vocabulary, hp.MaxSeqLength)
	if err != nil {
		return nil, err
	}
	trainEncoded, err := enc.EncodeAll(corpus.Train)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding train split")
	}
	validEncoded, err := enc.EncodeAll(corpus.Valid)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding valid split")
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed))
	trainBatches, err := encoding.Batches(trainEncoded, hp.BatchSize, rng)
	if err != nil {
		return nil, err
	}
	validBatches, err := encoding.Batches(validEncoded, hp.BatchSize, nil)
	if err != nil {
		return nil, err
	}
	klog.Infof("%d train batches, %d valid batches of up to %d examples of %d tokens",
		len(trainBatches), len(validBatches), hp.BatchSize, hp.MaxSeqLength)

	// Model and schedule.
	vocabSize := maxTokenID(trainEncoded, validEncoded) + 1
	if vs, ok := tok.(vocabSizer); ok {
		vocabSize = max(vocabSize, vs.VocabSize())
	}
	modelCfg := tokenlinear.DefaultConfig(vocabSize, corpus.Vocabulary.Len())
	modelCfg.Seed = opts.seed
	model, err := tokenlinear.New(modelCfg)
	if err != nil {
		return nil, err
	}
	stepsPerEpoch := len(trainBatches)
	sched, err := schedule.Parse(hp.LRSchedule,
		schedule.StepsFromEpochs(hp.LRWarmupEpochs, stepsPerEpoch),
		schedule.StepsFromEpochs(hp.MaxEpochs, stepsPerEpoch),
		hp.LRNumCycles)
	if err != nil {
		return nil, err
	}
	trainerCfg := trainer.Config{
		MaxEpochs: hp.MaxEpochs,
		LRMax:     hp.LRMax,
		Schedule:  sched,
		Monitor:   hp.Monitor,
		MinDelta:  hp.MinDelta,
		Patience:  hp.Patience,
		Mode:      hp.Mode,
	}
	if p.Checkpoints {
		name := artifactName(run)
		trainerCfg.CheckpointPath = filepath.Join(dirs.Checkpoints, "saved__"+name+".safetensors")
		trainerCfg.HistoryPath = filepath.Join(dirs.Checkpoints, "metrics__"+name+".json")
	}
	vocab := corpus.Vocabulary
	tr, err := trainer.New(model, vocab, metrics.New(vocab, metrics.DefaultPlan()), trainerCfg)
	if err != nil {
		return nil, err
	}

	// Tracking.
	store, err := tracking.NewStore(dirs.Tracking)
	if err != nil {
		return nil, err
	}
	trackRun, err := store.StartRun(run.Experiment, run.Name)
	if err != nil {
		return nil, err
	}
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		if endErr := trackRun.End(status); endErr != nil && err == nil {
			history, err = nil, endErr
		}
	}()
	params, err := run.Flat()
	if err != nil {
		return nil, err
	}
	if err := trackRun.LogParams(params); err != nil {
		return nil, err
	}
	events, err := tracking.NewEventWriter(filepath.Join(dirs.TensorBoard, run.Experiment, run.Name))
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := events.Close(); closeErr != nil && err == nil {
			history, err = nil, closeErr
		}
	}()
	tr.WithTracker(trackRun).WithScalars(events)

	history, err = tr.Fit(ctx, trainBatches, validBatches)
	if err != nil {
		return nil, err
	}
	klog.Infof("run %s tracked as %s in %q", run.ExperimentRunName(), trackRun.ID(), trackRun.Dir())
	return history, nil
}

func maxTokenID(splits ...[]*encoding.Encoded) int {
	maxID := 0
	for _, split := range splits {
		for _, e := range split {
			for _, id := range e.TokenIDs {
				maxID = max(maxID, int(id))
			}
		}
	}
	return maxID
}
