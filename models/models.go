// Package models defines what the training loop needs from a token-classification model.
//
// Implementations live in sub-packages, e.g. models/tokenlinear.
package models

import (
	"github.com/gomlx/go-nerkit/encoding"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Output of a model on a batch.
type Output struct {
	// Loss is the mean cross-entropy over the positions with attention mask 1.
	Loss float64

	// Logits shaped [batch_size, seq_length, num_labels], Float32 or Float64.
	Logits *tensors.Tensor
}

// Model is a token-classification model that owns its gradient computation.
type Model interface {
	// TrainStep runs the model on the batch and updates it with learning rate lr.
	TrainStep(b *encoding.Batch, lr float64) (Output, error)

	// Predict runs the model without updating it.
	Predict(b *encoding.Batch) (Output, error)
}

// Saver is implemented by models that can write a checkpoint.
type Saver interface {
	Save(path string) error
}
