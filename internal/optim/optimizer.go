// Package optim implements gradient-based parameter update rules.
//
// Optimizers consume the gradient map produced by a backward pass and
// update parameters in place:
//
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	optimizer.ZeroGrad()
package optim

import (
	"github.com/spread-ml/spread/internal/nn"
	"github.com/spread-ml/spread/internal/tensor"
)

// Optimizer is the interface implemented by all update rules.
type Optimizer interface {
	// Step applies one update to every managed parameter using the
	// given gradient map. Parameters absent from the map are skipped.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears the gradient slot of every managed parameter.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient looks up the gradient recorded for a parameter's tensor.
// Returns nil when the parameter took no part in the forward pass.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
