// Copyright 2025 Spread ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// The autodiff backend is a decorator: it wraps any tensor.Backend and
// records every operation on a gradient tape, which the backward pass
// then walks in reverse to accumulate gradients.
//
// Example:
//
//	import (
//	    "github.com/spread-ml/spread/autodiff"
//	    "github.com/spread-ml/spread/backend/cpu"
//	    "github.com/spread-ml/spread/tensor"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    backend.Tape().StartRecording()
//
//	    x := tensor.Full[float32](tensor.Shape{1}, 2, backend)
//	    y := x.Mul(x)
//
//	    grads := autodiff.Backward(y, backend)
//	    _ = grads[x.Raw()] // dy/dx = 4
//	}
package autodiff

import (
	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/tensor"
)

// Backend is the tape-recording backend decorator.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New wraps a backend with gradient tape recording.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for the backward pass.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates an empty gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// BackwardCapable is the interface of backends that can run a backward
// pass, i.e. any autodiff.Backend.
type BackwardCapable = autodiff.BackwardCapable

// Backward differentiates t with respect to everything on the tape and
// returns a map from input raw tensors to their gradients.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}
