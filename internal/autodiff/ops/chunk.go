package ops

import "github.com/spread-ml/spread/internal/tensor"

// ChunkOp represents a split of one tensor into n equal parts along a
// dimension. It is the multi-output dual of CatOp.
//
// Backward: concatenate all output gradients back together along dim.
type ChunkOp struct {
	input   *tensor.RawTensor
	outputs []*tensor.RawTensor
	n       int
	dim     int
}

// NewChunkOp creates a new ChunkOp.
func NewChunkOp(input *tensor.RawTensor, n, dim int, outputs []*tensor.RawTensor) *ChunkOp {
	return &ChunkOp{
		input:   input,
		outputs: outputs,
		n:       n,
		dim:     dim,
	}
}

// Inputs returns the input tensor.
func (op *ChunkOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the first chunk. The tape routes multi-output operations
// through Outputs/BackwardMulti instead.
func (op *ChunkOp) Output() *tensor.RawTensor {
	return op.outputs[0]
}

// Outputs returns all chunk tensors.
func (op *ChunkOp) Outputs() []*tensor.RawTensor {
	return op.outputs
}

// Backward must not be called for multi-output operations.
func (op *ChunkOp) Backward(_ *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	panic("ChunkOp.Backward: multi-output operation, use BackwardMulti")
}

// BackwardMulti concatenates the chunk gradients back into one input gradient.
func (op *ChunkOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if len(outputGrads) != op.n {
		panic("ChunkOp.BackwardMulti: gradient count does not match chunk count")
	}
	return []*tensor.RawTensor{backend.Cat(outputGrads, op.dim)}
}
