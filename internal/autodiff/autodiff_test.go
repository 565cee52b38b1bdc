package autodiff

import (
	"math"
	"testing"

	"github.com/spread-ml/spread/internal/backend/cpu"
	"github.com/spread-ml/spread/internal/tensor"
)

func newBackend() *AutodiffBackend[*cpu.CPUBackend] {
	return New(cpu.New())
}

func fromSlice(t *testing.T, b tensor.Backend, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	copy(raw.AsFloat32(), data)
	_ = b
	return raw
}

func assertGrad(t *testing.T, grads map[*tensor.RawTensor]*tensor.RawTensor, key *tensor.RawTensor, want []float32) {
	t.Helper()
	grad, ok := grads[key]
	if !ok {
		t.Fatal("no gradient recorded for tensor")
	}
	got := grad.AsFloat32()
	if len(got) != len(want) {
		t.Fatalf("gradient length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("gradient[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestMulGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{2, 3}, tensor.Shape{2})
	y := backend.Mul(x, x) // y = x²

	grads := backend.Tape().Backward(OnesLike(y, backend), backend)
	assertGrad(t, grads, x, []float32{4, 6}) // dy/dx = 2x
}

func TestAddGradientAccumulation(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2}, tensor.Shape{2})
	y := fromSlice(t, backend, []float32{10, 20}, tensor.Shape{2})

	// z = (x + y) + x: x contributes through two operations
	z := backend.Add(backend.Add(x, y), x)

	grads := backend.Tape().Backward(OnesLike(z, backend), backend)
	assertGrad(t, grads, x, []float32{2, 2})
	assertGrad(t, grads, y, []float32{1, 1})
}

func TestSubDivGradients(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	a := fromSlice(t, backend, []float32{6, 8}, tensor.Shape{2})
	b := fromSlice(t, backend, []float32{2, 4}, tensor.Shape{2})

	q := backend.Div(a, b)
	grads := backend.Tape().Backward(OnesLike(q, backend), backend)
	assertGrad(t, grads, a, []float32{0.5, 0.25})  // 1/b
	assertGrad(t, grads, b, []float32{-1.5, -0.5}) // -a/b²

	backend.Tape().Clear()
	d := backend.Sub(a, b)
	grads = backend.Tape().Backward(OnesLike(d, backend), backend)
	assertGrad(t, grads, a, []float32{1, 1})
	assertGrad(t, grads, b, []float32{-1, -1})
}

func TestBroadcastAddGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	a := fromSlice(t, backend, []float32{1, 2, 3}, tensor.Shape{3, 1})
	b := fromSlice(t, backend, []float32{10, 20}, tensor.Shape{1, 2})

	c := backend.Add(a, b) // [3, 2]
	grads := backend.Tape().Backward(OnesLike(c, backend), backend)

	// a was broadcast along dim 1: its gradient sums over that dim
	assertGrad(t, grads, a, []float32{2, 2, 2})
	// b was broadcast along dim 0
	assertGrad(t, grads, b, []float32{3, 3})
}

func TestMatMulGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	a := fromSlice(t, backend, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, backend, []float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	c := backend.MatMul(a, b)
	grads := backend.Tape().Backward(OnesLike(c, backend), backend)

	// grad_a = ones @ b^T, grad_b = a^T @ ones
	assertGrad(t, grads, a, []float32{11, 15, 11, 15})
	assertGrad(t, grads, b, []float32{4, 4, 6, 6})
}

func TestScalarOpGradients(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2}, tensor.Shape{2})

	y := backend.MulScalar(x, float32(3))
	grads := backend.Tape().Backward(OnesLike(y, backend), backend)
	assertGrad(t, grads, x, []float32{3, 3})

	backend.Tape().Clear()
	y = backend.DivScalar(x, float32(4))
	grads = backend.Tape().Backward(OnesLike(y, backend), backend)
	assertGrad(t, grads, x, []float32{0.25, 0.25})

	backend.Tape().Clear()
	y = backend.AddScalar(x, float32(10))
	grads = backend.Tape().Backward(OnesLike(y, backend), backend)
	assertGrad(t, grads, x, []float32{1, 1})
}

func TestSumGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	s := backend.Sum(x)

	grads := backend.Tape().Backward(OnesLike(s, backend), backend)
	assertGrad(t, grads, x, []float32{1, 1, 1, 1})
}

func TestSumDimGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	s := backend.SumDim(x, 0, false) // [3]

	// Seed with a non-uniform gradient to check the broadcast direction
	seed := fromSlice(t, backend, []float32{1, 2, 3}, tensor.Shape{3})
	grads := backend.Tape().Backward(seed, backend)
	assertGrad(t, grads, x, []float32{1, 2, 3, 1, 2, 3})
	_ = s
}

func TestMeanDimGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	m := backend.MeanDim(x, 0, false) // [2]

	grads := backend.Tape().Backward(OnesLike(m, backend), backend)
	third := float32(1.0 / 3.0)
	assertGrad(t, grads, x, []float32{third, third, third, third, third, third})
}

func TestChunkCatGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})

	parts := backend.Chunk(x, 3, 0)
	back := backend.Cat(parts, 0)

	grads := backend.Tape().Backward(OnesLike(back, backend), backend)
	assertGrad(t, grads, x, []float32{1, 1, 1, 1, 1, 1})
}

func TestUnsqueezeExpandGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2}, tensor.Shape{2})

	// Replicate x three times along a new leading axis
	un := backend.Unsqueeze(x, 0)                // [1, 2]
	ex := backend.Expand(un, tensor.Shape{3, 2}) // [3, 2]

	grads := backend.Tape().Backward(OnesLike(ex, backend), backend)
	// Each element was replicated 3 times
	assertGrad(t, grads, x, []float32{3, 3})
}

func TestTransposeGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	xT := backend.Transpose(x) // [3, 2]

	seed := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	grads := backend.Tape().Backward(seed, backend)
	// Gradient transposes back: seed^T
	assertGrad(t, grads, x, []float32{1, 3, 5, 2, 4, 6})
	_ = xT
}

func TestChainRule(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	// y = sum((x * x) * 2), dy/dx = 4x
	x := fromSlice(t, backend, []float32{1, 2, 3}, tensor.Shape{3})
	sq := backend.Mul(x, x)
	scaled := backend.MulScalar(sq, float32(2))
	y := backend.Sum(scaled)

	grads := backend.Tape().Backward(OnesLike(y, backend), backend)
	assertGrad(t, grads, x, []float32{4, 8, 12})
}

func TestTapeRecordingControl(t *testing.T) {
	backend := newBackend()

	x := fromSlice(t, backend, []float32{1, 2}, tensor.Shape{2})

	// Not recording: nothing lands on the tape
	backend.Add(x, x)
	if backend.Tape().NumOps() != 0 {
		t.Errorf("tape recorded %d ops while stopped", backend.Tape().NumOps())
	}

	backend.Tape().StartRecording()
	backend.Add(x, x)
	if backend.Tape().NumOps() != 1 {
		t.Errorf("tape has %d ops, want 1", backend.Tape().NumOps())
	}

	backend.Tape().Clear()
	if backend.Tape().NumOps() != 0 {
		t.Error("Clear did not empty the tape")
	}
	if !backend.Tape().IsRecording() {
		t.Error("Clear should preserve recording state")
	}
}

func TestBackwardHelper(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := tensor.Full[float32](tensor.Shape{2}, 3, backend)
	y := x.Mul(x)

	grads := Backward(y, backend)
	assertGrad(t, grads, x.Raw(), []float32{6, 6})
}

func TestNestedBackends(t *testing.T) {
	host := newBackend()

	// A second autodiff layer over the host backend gets its own tape.
	sub := New[tensor.Backend](host)
	sub.Tape().StartRecording()

	x := fromSlice(t, host, []float32{2}, tensor.Shape{1})
	y := sub.Mul(x, x)

	if host.Tape().NumOps() != 0 {
		t.Errorf("host tape recorded %d ops, want 0", host.Tape().NumOps())
	}
	grads := sub.Tape().Backward(OnesLike(y, sub), sub)
	assertGrad(t, grads, x, []float32{4})
}
