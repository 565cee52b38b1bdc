package ops

import (
	"fmt"

	"github.com/spread-ml/spread/internal/tensor"
)

// ScalarOpKind identifies which scalar operation was recorded.
type ScalarOpKind int

// Scalar operation kinds.
const (
	ScalarMul ScalarOpKind = iota
	ScalarAdd
	ScalarSub
	ScalarDiv
)

// ScalarOp represents an element-wise operation with a scalar constant:
// output = x op scalar. The scalar is a constant, so only x receives a
// gradient.
//
// Backward pass:
//   - mul: d(x*s)/dx = s
//   - add: d(x+s)/dx = 1
//   - sub: d(x-s)/dx = 1
//   - div: d(x/s)/dx = 1/s
type ScalarOp struct {
	kind   ScalarOpKind
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar any
}

// NewScalarOp creates a new ScalarOp.
func NewScalarOp(kind ScalarOpKind, x, output *tensor.RawTensor, scalar any) *ScalarOp {
	return &ScalarOp{
		kind:   kind,
		input:  x,
		output: output,
		scalar: scalar,
	}
}

// Backward computes the input gradient.
func (op *ScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	var grad *tensor.RawTensor
	switch op.kind {
	case ScalarMul:
		grad = backend.MulScalar(outputGrad, op.scalar)
	case ScalarAdd, ScalarSub:
		grad = outputGrad.Clone()
	case ScalarDiv:
		grad = backend.DivScalar(outputGrad, op.scalar)
	default:
		panic(fmt.Sprintf("ScalarOp.Backward: unknown kind %d", op.kind))
	}
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensors [x].
func (op *ScalarOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *ScalarOp) Output() *tensor.RawTensor {
	return op.output
}
