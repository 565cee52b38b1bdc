// Package nn provides minimal neural network building blocks used by the
// training examples: trainable parameters, a Linear layer, and an MSE loss.
//
// Modules follow the usual Forward/Parameters contract:
//
//	model := nn.NewLinear(2, 1, backend)
//	out := model.Forward(input)
//	params := model.Parameters()
package nn

import (
	"github.com/spread-ml/spread/internal/tensor"
)

// Module is the interface implemented by all network components.
type Module[B tensor.Backend] interface {
	// Forward computes the module output for the given input.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns the trainable parameters of this module,
	// including those of any nested modules. Modules without trainable
	// state return an empty slice.
	Parameters() []*Parameter[B]
}
