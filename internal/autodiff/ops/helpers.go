package ops

import (
	"fmt"

	"github.com/spread-ml/spread/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape,
// undoing any broadcasting that happened in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()

	// Clone when shapes already match so a shared gradient is never
	// mutated by a later inplace op.
	if gradShape.Equal(targetShape) {
		return grad.Clone()
	}

	if len(targetShape) == 0 {
		return backend.Sum(grad)
	}

	// Broadcasting aligns shapes from the right: sum away extra leading
	// dimensions first, then sum along dimensions the target keeps at 1.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, size := range targetShape {
		if size == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// broadcastTo expands a gradient to the given shape, adding leading
// dimensions as needed. The inverse of reduceBroadcast.
func broadcastTo(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(targetShape) {
		return grad.Clone()
	}
	if len(grad.Shape()) == 0 && len(targetShape) > 0 {
		// Expand needs at least rank 1 to align from the right.
		ones := make(tensor.Shape, len(targetShape))
		for i := range ones {
			ones[i] = 1
		}
		grad = backend.Reshape(grad, ones)
	}
	return backend.Expand(grad, targetShape)
}

// negate returns -t.
func negate(t *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	return backend.MulScalar(t, scalarOf(t.DType(), -1))
}

// scalarOf converts v to the Go type matching the tensor dtype, for use
// with the backend scalar operations.
func scalarOf(dtype tensor.DataType, v float64) any {
	switch dtype {
	case tensor.Float32:
		return float32(v)
	case tensor.Float64:
		return v
	default:
		panic(fmt.Sprintf("scalarOf: unsupported dtype %v", dtype))
	}
}
