package tensor

import "fmt"

// Verify that MockBackend implements Backend.
var _ Backend = (*MockBackend)(nil)

// MockBackend is a simple backend for testing.
// It implements all operations naively for correctness verification, with
// every value routed through float64 regardless of the tensor dtype.
type MockBackend struct{}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return "mock"
}

// Device returns the device type.
func (m *MockBackend) Device() Device {
	return CPU
}

// Add performs element-wise addition with broadcasting.
func (m *MockBackend) Add(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (m *MockBackend) Sub(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (m *MockBackend) Mul(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (m *MockBackend) Div(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x / y })
}

func (m *MockBackend) elementWise(a, b *RawTensor, op func(float64, float64) float64) *RawTensor {
	outShape, _, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(err)
	}

	result, err := NewRaw(outShape, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)

	n := outShape.NumElements()
	for i := 0; i < n; i++ {
		av := getFloat(a, flatIndex(i, outStrides, aStrides))
		bv := getFloat(b, flatIndex(i, outStrides, bStrides))
		setFloat(result, i, op(av, bv))
	}
	return result
}

// MatMul performs naive 2D matrix multiplication.
func (m *MockBackend) MatMul(a, b *RawTensor) *RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 || aShape[1] != bShape[0] {
		panic(fmt.Sprintf("mock matmul: incompatible shapes %v @ %v", aShape, bShape))
	}
	rows, inner, cols := aShape[0], aShape[1], bShape[1]

	result, err := NewRaw(Shape{rows, cols}, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sum := 0.0
			for k := 0; k < inner; k++ {
				sum += getFloat(a, i*inner+k) * getFloat(b, k*cols+j)
			}
			setFloat(result, i*cols+j, sum)
		}
	}
	return result
}

// Reshape returns a copy with a new shape.
func (m *MockBackend) Reshape(t *RawTensor, newShape Shape) *RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("mock reshape: incompatible shapes %v -> %v", t.Shape(), newShape))
	}
	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes dimensions.
func (m *MockBackend) Transpose(t *RawTensor, axes ...int) *RawTensor {
	shape := t.Shape()
	ndim := len(shape)
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	newShape := make(Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}
	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	srcStrides := shape.ComputeStrides()
	dstStrides := newShape.ComputeStrides()
	n := shape.NumElements()
	coords := make([]int, ndim)
	for i := 0; i < n; i++ {
		idx := i
		for d := 0; d < ndim; d++ {
			coords[d] = idx / srcStrides[d]
			idx %= srcStrides[d]
		}
		dstIdx := 0
		for d := 0; d < ndim; d++ {
			dstIdx += coords[axes[d]] * dstStrides[d]
		}
		setFloat(result, dstIdx, getFloat(t, i))
	}
	return result
}

// MulScalar multiplies each element by a scalar.
func (m *MockBackend) MulScalar(x *RawTensor, scalar any) *RawTensor {
	return m.scalarWise(x, toFloat(scalar), func(v, s float64) float64 { return v * s })
}

// AddScalar adds a scalar to each element.
func (m *MockBackend) AddScalar(x *RawTensor, scalar any) *RawTensor {
	return m.scalarWise(x, toFloat(scalar), func(v, s float64) float64 { return v + s })
}

// SubScalar subtracts a scalar from each element.
func (m *MockBackend) SubScalar(x *RawTensor, scalar any) *RawTensor {
	return m.scalarWise(x, toFloat(scalar), func(v, s float64) float64 { return v - s })
}

// DivScalar divides each element by a scalar.
func (m *MockBackend) DivScalar(x *RawTensor, scalar any) *RawTensor {
	return m.scalarWise(x, toFloat(scalar), func(v, s float64) float64 { return v / s })
}

func (m *MockBackend) scalarWise(x *RawTensor, s float64, op func(float64, float64) float64) *RawTensor {
	result, err := NewRaw(x.Shape(), x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	n := x.NumElements()
	for i := 0; i < n; i++ {
		setFloat(result, i, op(getFloat(x, i), s))
	}
	return result
}

// Sum reduces all elements to a scalar tensor.
func (m *MockBackend) Sum(x *RawTensor) *RawTensor {
	result, err := NewRaw(Shape{}, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	sum := 0.0
	n := x.NumElements()
	for i := 0; i < n; i++ {
		sum += getFloat(x, i)
	}
	setFloat(result, 0, sum)
	return result
}

// SumDim sums along a dimension.
func (m *MockBackend) SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	return m.reduceDim(x, dim, keepDim, false)
}

// MeanDim computes the mean along a dimension.
func (m *MockBackend) MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	return m.reduceDim(x, dim, keepDim, true)
}

func (m *MockBackend) reduceDim(x *RawTensor, dim int, keepDim, mean bool) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("mock reduce: dimension %d out of range for %dD tensor", dim, ndim))
	}

	keptShape := shape.Clone()
	keptShape[dim] = 1
	result, err := NewRaw(keptShape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	strides := shape.ComputeStrides()
	outStrides := keptShape.ComputeStrides()
	n := shape.NumElements()
	for i := 0; i < n; i++ {
		outIdx := 0
		tmp := i
		for d := 0; d < ndim; d++ {
			coord := tmp / strides[d]
			tmp %= strides[d]
			if d != dim {
				outIdx += coord * outStrides[d]
			}
		}
		setFloat(result, outIdx, getFloat(result, outIdx)+getFloat(x, i))
	}

	if mean {
		divisor := float64(shape[dim])
		for i := 0; i < keptShape.NumElements(); i++ {
			setFloat(result, i, getFloat(result, i)/divisor)
		}
	}

	if !keepDim {
		return m.Squeeze(result, dim)
	}
	return result
}

// Cat concatenates tensors along a dimension.
func (m *MockBackend) Cat(tensors []*RawTensor, dim int) *RawTensor {
	if len(tensors) == 0 {
		panic("mock cat: at least one tensor required")
	}
	shape := tensors[0].Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	total := 0
	for _, t := range tensors {
		total += t.Shape()[dim]
	}
	outShape := shape.Clone()
	outShape[dim] = total
	result, err := NewRaw(outShape, tensors[0].DType(), m.Device())
	if err != nil {
		panic(err)
	}

	outStrides := outShape.ComputeStrides()
	offset := 0
	for _, t := range tensors {
		tShape := t.Shape()
		tStrides := tShape.ComputeStrides()
		n := tShape.NumElements()
		for i := 0; i < n; i++ {
			outIdx := 0
			tmp := i
			for d := 0; d < ndim; d++ {
				coord := tmp / tStrides[d]
				tmp %= tStrides[d]
				if d == dim {
					coord += offset
				}
				outIdx += coord * outStrides[d]
			}
			setFloat(result, outIdx, getFloat(t, i))
		}
		offset += tShape[dim]
	}
	return result
}

// Chunk splits a tensor into n equal parts along a dimension.
func (m *MockBackend) Chunk(x *RawTensor, n, dim int) []*RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if shape[dim]%n != 0 {
		panic(fmt.Sprintf("mock chunk: dimension %d size %d not divisible by %d", dim, shape[dim], n))
	}
	chunkSize := shape[dim] / n
	chunkShape := shape.Clone()
	chunkShape[dim] = chunkSize

	results := make([]*RawTensor, n)
	chunkStrides := chunkShape.ComputeStrides()
	srcStrides := shape.ComputeStrides()
	for c := 0; c < n; c++ {
		chunk, err := NewRaw(chunkShape, x.DType(), m.Device())
		if err != nil {
			panic(err)
		}
		cn := chunkShape.NumElements()
		for i := 0; i < cn; i++ {
			srcIdx := 0
			tmp := i
			for d := 0; d < ndim; d++ {
				coord := tmp / chunkStrides[d]
				tmp %= chunkStrides[d]
				if d == dim {
					coord += c * chunkSize
				}
				srcIdx += coord * srcStrides[d]
			}
			setFloat(chunk, i, getFloat(x, srcIdx))
		}
		results[c] = chunk
	}
	return results
}

// Unsqueeze adds a dimension of size 1.
func (m *MockBackend) Unsqueeze(x *RawTensor, dim int) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + 1 + dim
	}
	newShape := make(Shape, 0, ndim+1)
	newShape = append(newShape, shape[:dim]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, shape[dim:]...)
	return m.Reshape(x, newShape)
}

// Squeeze removes a dimension of size 1.
func (m *MockBackend) Squeeze(x *RawTensor, dim int) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if shape[dim] != 1 {
		panic(fmt.Sprintf("mock squeeze: dimension %d has size %d, must be 1", dim, shape[dim]))
	}
	newShape := make(Shape, 0, ndim-1)
	newShape = append(newShape, shape[:dim]...)
	newShape = append(newShape, shape[dim+1:]...)
	return m.Reshape(x, newShape)
}

// Expand broadcasts to a larger shape.
func (m *MockBackend) Expand(x *RawTensor, shape Shape) *RawTensor {
	result, err := NewRaw(shape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	outStrides := shape.ComputeStrides()
	xStrides := broadcastStrides(x.Shape(), shape)
	n := shape.NumElements()
	for i := 0; i < n; i++ {
		setFloat(result, i, getFloat(x, flatIndex(i, outStrides, xStrides)))
	}
	return result
}

// broadcastStrides computes strides for broadcasting inShape to outShape,
// with stride 0 on broadcast (size 1 or missing) dimensions.
func broadcastStrides(inShape, outShape Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)
	offset := outDim - len(inShape)
	origStrides := inShape.ComputeStrides()
	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		if inIdx < 0 || inShape[inIdx] == 1 {
			strides[i] = 0
		} else {
			strides[i] = origStrides[inIdx]
		}
	}
	return strides
}

// flatIndex maps an output flat index to a source flat index given
// broadcast-adjusted source strides.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	idx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		idx += coord * inStrides[i]
	}
	return idx
}

func getFloat(t *RawTensor, i int) float64 {
	switch t.DType() {
	case Float32:
		return float64(t.AsFloat32()[i])
	case Float64:
		return t.AsFloat64()[i]
	default:
		panic("unsupported dtype")
	}
}

func setFloat(t *RawTensor, i int, v float64) {
	switch t.DType() {
	case Float32:
		t.AsFloat32()[i] = float32(v)
	case Float64:
		t.AsFloat64()[i] = v
	default:
		panic("unsupported dtype")
	}
}

func toFloat(scalar any) float64 {
	switch s := scalar.(type) {
	case float32:
		return float64(s)
	case float64:
		return s
	default:
		panic(fmt.Sprintf("unsupported scalar type %T", scalar))
	}
}
