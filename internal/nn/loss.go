package nn

import (
	"github.com/spread-ml/spread/internal/tensor"
)

// MSELoss computes mean squared error: mean((predictions - targets)²).
//
// The loss is built from backend tensor operations only, so it stays on
// the gradient tape and can be differentiated end to end.
type MSELoss[B tensor.Backend] struct {
	backend B
}

// NewMSELoss creates an MSE loss function.
func NewMSELoss[B tensor.Backend](backend B) *MSELoss[B] {
	return &MSELoss[B]{backend: backend}
}

// Forward returns the scalar MSE between predictions and targets.
// Both inputs must have the same shape.
func (m *MSELoss[B]) Forward(predictions, targets *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !predictions.Shape().Equal(targets.Shape()) {
		panic("MSELoss: predictions and targets must have the same shape")
	}

	diff := predictions.Sub(targets)
	squared := diff.Mul(diff)

	n := float32(squared.NumElements())
	return squared.Sum().DivScalar(n)
}

// Parameters returns nil; loss functions have no trainable state.
func (m *MSELoss[B]) Parameters() []*Parameter[B] {
	return nil
}
