package ops

import (
	"fmt"

	"github.com/spread-ml/spread/internal/tensor"
)

// CatOp represents concatenation along a dimension.
//
// Backward: the output gradient is split along the concat dimension at the
// input boundaries; each input receives the slice matching its contribution.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
	sizes  []int // size of each input along the concat dimension
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, dim int, output *tensor.RawTensor) *CatOp {
	sizes := make([]int, len(inputs))
	for i, in := range inputs {
		sizes[i] = in.Shape()[dim]
	}
	return &CatOp{
		inputs: inputs,
		output: output,
		dim:    dim,
		sizes:  sizes,
	}
}

// Backward splits the output gradient at the input boundaries.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if uniform(op.sizes) {
		return backend.Chunk(outputGrad, len(op.inputs), op.dim)
	}

	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, size := range op.sizes {
		grads[i] = sliceAlongDim(outputGrad, op.dim, offset, size)
		offset += size
	}
	return grads
}

// Inputs returns the concatenated input tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor.
func (op *CatOp) Output() *tensor.RawTensor {
	return op.output
}

func uniform(sizes []int) bool {
	for _, s := range sizes[1:] {
		if s != sizes[0] {
			return false
		}
	}
	return true
}

// sliceAlongDim copies the [offset, offset+size) range of src along dim
// into a fresh tensor. Works on raw bytes, so it is dtype-agnostic.
func sliceAlongDim(src *tensor.RawTensor, dim, offset, size int) *tensor.RawTensor {
	srcShape := src.Shape()
	dstShape := srcShape.Clone()
	dstShape[dim] = size

	dst, err := tensor.NewRaw(dstShape, src.DType(), src.Device())
	if err != nil {
		panic(fmt.Sprintf("sliceAlongDim: %v", err))
	}

	elemSize := src.DType().Size()
	inner := elemSize
	for d := dim + 1; d < len(srcShape); d++ {
		inner *= srcShape[d]
	}
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= srcShape[d]
	}

	srcData := src.Data()
	dstData := dst.Data()
	srcBlock := srcShape[dim] * inner
	dstBlock := size * inner
	for o := 0; o < outer; o++ {
		srcStart := o*srcBlock + offset*inner
		copy(dstData[o*dstBlock:(o+1)*dstBlock], srcData[srcStart:srcStart+dstBlock])
	}

	return dst
}
