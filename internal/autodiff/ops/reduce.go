package ops

import "github.com/spread-ml/spread/internal/tensor"

// SumOp represents a full reduction to a scalar: output = sum(x).
//
// Backward: every element contributed with weight 1, so the scalar output
// gradient is broadcast back to the input shape.
type SumOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp {
	return &SumOp{input: x, output: output}
}

// Backward computes the input gradient for the total sum.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{broadcastTo(outputGrad, op.input.Shape(), backend)}
}

// Inputs returns the input tensors [x].
func (op *SumOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the scalar output tensor.
func (op *SumOp) Output() *tensor.RawTensor {
	return op.output
}

// SumDimOp represents a sum along one dimension: output = sum(x, dim).
//
// Backward: the output gradient is broadcast back along the reduced
// dimension. If keepDim was false the gradient first regains the dimension
// via unsqueeze.
type SumDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{
		input:   x,
		output:  output,
		dim:     normalizeDim(dim, len(x.Shape())),
		keepDim: keepDim,
	}
}

// Backward computes the input gradient for the dimension sum.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := outputGrad
	if !op.keepDim {
		grad = backend.Unsqueeze(grad, op.dim)
	}
	return []*tensor.RawTensor{backend.Expand(grad, op.input.Shape())}
}

// Inputs returns the input tensors [x].
func (op *SumDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *SumDimOp) Output() *tensor.RawTensor {
	return op.output
}

// MeanDimOp represents a mean along one dimension: output = mean(x, dim).
//
// Backward: like SumDimOp, scaled by 1/size of the reduced dimension.
type MeanDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
	dimSize int
}

// NewMeanDimOp creates a new MeanDimOp.
func NewMeanDimOp(x, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	d := normalizeDim(dim, len(x.Shape()))
	return &MeanDimOp{
		input:   x,
		output:  output,
		dim:     d,
		keepDim: keepDim,
		dimSize: x.Shape()[d],
	}
}

// Backward computes the input gradient for the dimension mean.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := outputGrad
	if !op.keepDim {
		grad = backend.Unsqueeze(grad, op.dim)
	}
	grad = backend.Expand(grad, op.input.Shape())
	grad = backend.DivScalar(grad, scalarOf(grad.DType(), float64(op.dimSize)))
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensors [x].
func (op *MeanDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *MeanDimOp) Output() *tensor.RawTensor {
	return op.output
}

// normalizeDim maps a possibly negative dimension index into [0, ndim).
func normalizeDim(dim, ndim int) int {
	if dim < 0 {
		dim += ndim
	}
	return dim
}
