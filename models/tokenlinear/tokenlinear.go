// Package tokenlinear is a baseline token-classification model: each token id has its own vector of
// label scores (an embedding table of dimension NumLabels) plus a shared bias, trained with AdamW on
// the masked cross-entropy of the labels.
//
// It has no context at all, so it's only useful as a reference point and to exercise the training
// loop end to end. It runs on GoMLX's pure Go backend, so it needs no accelerator libraries.
package tokenlinear

import (
	"strconv"

	"github.com/gomlx/compute"
	"github.com/gomlx/compute/gobackend"
	"github.com/gomlx/go-nerkit/checkpoint"
	"github.com/gomlx/go-nerkit/encoding"
	"github.com/gomlx/go-nerkit/models"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of the model.
type Config struct {
	VocabSize int
	NumLabels int

	// WeightDecay of the AdamW optimizer.
	WeightDecay float64

	// MaxGradNorm clips the gradients to this global L2 norm; 0 disables clipping.
	MaxGradNorm float64

	// Seed of the initialization.
	Seed uint64
}

// DefaultConfig returns the default training settings for the given sizes.
func DefaultConfig(vocabSize, numLabels int) Config {
	return Config{
		VocabSize:   vocabSize,
		NumLabels:   numLabels,
		WeightDecay: 0.02,
		MaxGradNorm: 1.0,
		Seed:        42,
	}
}

// Scope of the model variables in its context.
const Scope = "tokenlinear"

// Variable and checkpoint tensor names.
const (
	embeddingsName = "embeddings"
	biasName       = "bias"
	modelName      = "tokenlinear"
)

// Model holds the variables and the compiled graphs, and implements models.Model.
// Not safe for concurrent TrainStep calls.
type Model struct {
	cfg Config

	backend   compute.Backend
	ctx       *context.Context
	optimizer train.OptimizeWithGradients

	trainExec, predictExec *context.Exec
}

func (cfg Config) validate() error {
	if cfg.VocabSize <= 0 || cfg.NumLabels <= 0 {
		return errors.Errorf("invalid model sizes: vocab=%d, labels=%d", cfg.VocabSize, cfg.NumLabels)
	}
	return nil
}

// New creates a model with small random label scores and zero bias.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx := context.New()
	if err := ctx.SetRNGStateFromSeed(int64(cfg.Seed)); err != nil {
		return nil, errors.Wrap(err, "seeding the model initialization")
	}
	scoped := ctx.In(Scope)
	scoped.WithInitializer(initializers.RandomNormalFn(ctx, 0.02)).
		VariableWithShape(embeddingsName, shapes.Make(dtypes.Float32, cfg.VocabSize, cfg.NumLabels))
	scoped.WithInitializer(initializers.Zero).
		VariableWithShape(biasName, shapes.Make(dtypes.Float32, cfg.NumLabels))

	m, err := newModel(cfg, ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.InitializeVariables(m.backend, nil); err != nil {
		return nil, errors.WithMessage(err, "initializing the model variables")
	}
	return m, nil
}

// newModel sets up the optimizer and the executors of a context holding the model variables.
func newModel(cfg Config, ctx *context.Context) (*Model, error) {
	m := &Model{cfg: cfg, backend: gobackend.GetBackend(), ctx: ctx}
	opt, ok := optimizers.Adam().WeightDecay(cfg.WeightDecay).Done().(train.OptimizeWithGradients)
	if !ok {
		return nil, errors.New("the Adam optimizer doesn't take precomputed gradients")
	}
	m.optimizer = opt
	var err error
	if m.trainExec, err = context.NewExec(m.backend, ctx, m.trainGraph); err != nil {
		return nil, errors.WithMessage(err, "creating the training executor")
	}
	if m.predictExec, err = context.NewExec(m.backend, ctx, m.predictGraph); err != nil {
		return nil, errors.WithMessage(err, "creating the prediction executor")
	}
	return m, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.cfg }

// logitsGraph returns the label scores shaped [batch, seq_length, num_labels] of tokens shaped
// [batch, seq_length].
func (m *Model) logitsGraph(ctx *context.Context, tokens *graph.Node) *graph.Node {
	ctx = ctx.In(Scope).Reuse()
	logits := layers.Embedding(ctx, graph.InsertAxes(tokens, -1), dtypes.Float32, m.cfg.VocabSize, m.cfg.NumLabels)
	bias := ctx.VariableWithShape(biasName, shapes.Make(dtypes.Float32, m.cfg.NumLabels)).ValueGraph(tokens.Graph())
	bias = graph.BroadcastToShape(graph.Reshape(bias, 1, 1, m.cfg.NumLabels), logits.Shape())
	return graph.Add(logits, bias)
}

// lossGraph is the mean cross-entropy over the positions where mask is set.
func lossGraph(logits, mask, labels *graph.Node) *graph.Node {
	isToken := graph.GreaterThan(mask, graph.ScalarZero(mask.Graph(), mask.DType()))
	return losses.SparseCategoricalCrossEntropyLogits(
		[]*graph.Node{graph.InsertAxes(labels, -1), isToken},
		[]*graph.Node{logits})
}

func (m *Model) predictGraph(ctx *context.Context, tokens, mask, labels *graph.Node) (logits, loss *graph.Node) {
	logits = m.logitsGraph(ctx, tokens)
	return logits, lossGraph(logits, mask, labels)
}

func (m *Model) trainGraph(ctx *context.Context, tokens, mask, labels *graph.Node) (logits, loss *graph.Node) {
	logits, loss = m.predictGraph(ctx, tokens, mask, labels)
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if m.cfg.MaxGradNorm > 0 {
		grads = clipByGlobalNorm(grads, m.cfg.MaxGradNorm)
	}
	m.optimizer.UpdateGraphWithGradients(ctx, grads, loss.DType())
	return logits, loss
}

// clipByGlobalNorm scales all grads down so that their joint L2 norm is at most maxNorm.
func clipByGlobalNorm(grads []*graph.Node, maxNorm float64) []*graph.Node {
	if len(grads) == 0 {
		return grads
	}
	g, dtype := grads[0].Graph(), grads[0].DType()
	sumSquares := graph.ScalarZero(g, dtype)
	for _, grad := range grads {
		sumSquares = graph.Add(sumSquares, graph.ReduceAllSum(graph.Square(grad)))
	}
	limit := graph.Scalar(g, dtype, maxNorm)
	scale := graph.Div(limit, graph.Max(graph.Sqrt(sumSquares), limit))
	clipped := make([]*graph.Node, len(grads))
	for i, grad := range grads {
		clipped[i] = graph.Mul(grad, scale)
	}
	return clipped
}

// checkBatch rejects ids the graph would silently clamp.
func (m *Model) checkBatch(b *encoding.Batch) error {
	if b.Size() == 0 {
		return errors.New("empty batch")
	}
	for i := range b.Size() {
		for j, token := range b.TokenIDs[i] {
			if token < 0 || int(token) >= m.cfg.VocabSize {
				return errors.Errorf("batch example #%d position %d: token id %d out of the vocabulary of %d tokens",
					i, j, token, m.cfg.VocabSize)
			}
			if label := b.LabelIDs[i][j]; label < 0 || int(label) >= m.cfg.NumLabels {
				return errors.Errorf("batch example #%d position %d: label id %d out of %d labels",
					i, j, label, m.cfg.NumLabels)
			}
		}
	}
	return nil
}

func (m *Model) run(exec *context.Exec, b *encoding.Batch) (models.Output, error) {
	if err := m.checkBatch(b); err != nil {
		return models.Output{}, err
	}
	bt := b.Tensors()
	logits, loss, err := exec.Exec2(bt.TokenIDs, bt.AttentionMask, bt.LabelIDs)
	if err != nil {
		return models.Output{}, errors.WithMessagef(err, "executing %s", exec.Name())
	}
	return models.Output{Loss: float64(tensors.ToScalar[float32](loss)), Logits: logits}, nil
}

// Predict runs the model without updating it.
func (m *Model) Predict(b *encoding.Batch) (models.Output, error) {
	return m.run(m.predictExec, b)
}

// TrainStep runs the model on the batch and takes one optimizer step with learning rate lr.
// The returned output is from before the update.
func (m *Model) TrainStep(b *encoding.Batch, lr float64) (models.Output, error) {
	lrVar := optimizers.LearningRateVar(m.ctx, dtypes.Float32, lr)
	if err := lrVar.SetValue(tensors.FromScalar(float32(lr))); err != nil {
		return models.Output{}, errors.Wrap(err, "setting the learning rate")
	}
	return m.run(m.trainExec, b)
}

func (m *Model) variable(name string) (*tensors.Tensor, error) {
	v := m.ctx.GetVariableByScopeAndName(m.ctx.In(Scope).Scope(), name)
	if v == nil {
		return nil, errors.Errorf("model variable %q not found", name)
	}
	return v.Value()
}

// Save writes the model variables to a checkpoint file. The optimizer state is not saved.
func (m *Model) Save(path string) error {
	named := make(map[string]*tensors.Tensor, 2)
	for _, name := range []string{embeddingsName, biasName} {
		t, err := m.variable(name)
		if err != nil {
			return err
		}
		named[name] = t
	}
	return checkpoint.Save(path, named, map[string]string{
		"model":         modelName,
		"weight_decay":  strconv.FormatFloat(m.cfg.WeightDecay, 'g', -1, 64),
		"max_grad_norm": strconv.FormatFloat(m.cfg.MaxGradNorm, 'g', -1, 64),
	})
}

// Load reads a model saved with Save.
func Load(path string) (*Model, error) {
	r, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			klog.Warningf("closing checkpoint %q: %v", path, err)
		}
	}()
	if got := r.Header.Metadata["model"]; got != modelName {
		return nil, errors.Errorf("checkpoint %q holds model %q, not %q", path, got, modelName)
	}
	embeddings, err := r.ReadTensor(embeddingsName)
	if err != nil {
		return nil, err
	}
	dims := embeddings.Shape().Dimensions
	if len(dims) != 2 || embeddings.Shape().DType != dtypes.Float32 {
		return nil, errors.Errorf("checkpoint %q: embeddings shaped %s, want a Float32 matrix", path, embeddings.Shape())
	}
	bias, err := r.ReadTensor(biasName)
	if err != nil {
		return nil, err
	}
	if bShape := bias.Shape(); bShape.DType != dtypes.Float32 || bShape.Rank() != 1 || bShape.Dimensions[0] != dims[1] {
		return nil, errors.Errorf("checkpoint %q: bias shaped %s doesn't match embeddings shaped %s", path, bShape, embeddings.Shape())
	}

	cfg := Config{VocabSize: dims[0], NumLabels: dims[1]}
	if v, err := strconv.ParseFloat(r.Header.Metadata["weight_decay"], 64); err == nil {
		cfg.WeightDecay = v
	}
	if v, err := strconv.ParseFloat(r.Header.Metadata["max_grad_norm"], 64); err == nil {
		cfg.MaxGradNorm = v
	}
	ctx := context.New()
	scoped := ctx.In(Scope)
	scoped.VariableWithValue(embeddingsName, embeddings)
	scoped.VariableWithValue(biasName, bias)
	return newModel(cfg, ctx)
}
