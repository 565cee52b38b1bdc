package cpu

import (
	"fmt"

	"github.com/spread-ml/spread/internal/tensor"
)

// Expand broadcasts the tensor to a new shape.
//
// Dimensions of size 1 are repeated; missing leading dimensions are added.
// The result is materialized (value equality with the source is guaranteed,
// aliasing is not).
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	xShape := x.Shape()

	if len(newShape) < len(xShape) {
		panic(fmt.Sprintf("expand: new shape %v has fewer dimensions than input shape %v",
			newShape, xShape))
	}

	// Align shapes from the right: each input dimension must equal the
	// target dimension or be 1.
	offset := len(newShape) - len(xShape)
	for i := 0; i < len(xShape); i++ {
		xDim := xShape[i]
		newDim := newShape[offset+i]
		if xDim != 1 && xDim != newDim {
			panic(fmt.Sprintf("expand: cannot expand dimension %d from %d to %d",
				i, xDim, newDim))
		}
	}

	result, err := tensor.NewRaw(newShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("expand: %v", err))
	}

	outStrides := newShape.ComputeStrides()
	xStrides := computeBroadcastStridesForShape(xShape, newShape)
	n := newShape.NumElements()

	switch x.DType() {
	case tensor.Float32:
		src := x.AsFloat32()
		dst := result.AsFloat32()
		for i := 0; i < n; i++ {
			dst[i] = src[computeFlatIndex(i, outStrides, xStrides)]
		}
	case tensor.Float64:
		src := x.AsFloat64()
		dst := result.AsFloat64()
		for i := 0; i < n; i++ {
			dst[i] = src[computeFlatIndex(i, outStrides, xStrides)]
		}
	default:
		panic(fmt.Sprintf("expand: unsupported dtype %v", x.DType()))
	}

	return result
}
