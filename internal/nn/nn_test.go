package nn_test

import (
	"math"
	"testing"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/backend/cpu"
	"github.com/spread-ml/spread/internal/nn"
	"github.com/spread-ml/spread/internal/tensor"
)

func floatEqual(a, b, epsilon float32) bool {
	return math.Abs(float64(a-b)) < float64(epsilon)
}

func TestParameter(t *testing.T) {
	backend := autodiff.New(cpu.New())

	data, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param := nn.NewParameter("weight", data)

	if param.Name() != "weight" {
		t.Errorf("Name() = %s, want weight", param.Name())
	}
	if param.Tensor() != data {
		t.Error("Tensor() should return the original tensor")
	}
	if param.Grad() != nil {
		t.Error("Grad() should be nil before any backward pass")
	}

	grad, err := tensor.FromSlice([]float32{0.1, 0.2, 0.3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param.SetGrad(grad)
	if param.Grad() != grad {
		t.Error("SetGrad() should store the gradient")
	}

	param.ZeroGrad()
	if param.Grad() != nil {
		t.Error("ZeroGrad() should clear the gradient")
	}
}

func TestLinearShapes(t *testing.T) {
	backend := autodiff.New(cpu.New())
	layer := nn.NewLinear(4, 3, backend)

	if layer.InFeatures() != 4 || layer.OutFeatures() != 3 {
		t.Fatalf("feature counts = (%d, %d), want (4, 3)", layer.InFeatures(), layer.OutFeatures())
	}
	if !layer.Weight().Tensor().Shape().Equal(tensor.Shape{3, 4}) {
		t.Errorf("weight shape = %v, want [3 4]", layer.Weight().Tensor().Shape())
	}
	if !layer.Bias().Tensor().Shape().Equal(tensor.Shape{3}) {
		t.Errorf("bias shape = %v, want [3]", layer.Bias().Tensor().Shape())
	}

	input := tensor.Randn[float32](tensor.Shape{2, 4}, backend)
	output := layer.Forward(input)
	if !output.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("output shape = %v, want [2 3]", output.Shape())
	}

	if len(layer.Parameters()) != 2 {
		t.Errorf("Parameters() returned %d params, want 2", len(layer.Parameters()))
	}
}

func TestLinearForwardValues(t *testing.T) {
	backend := autodiff.New(cpu.New())
	layer := nn.NewLinear(2, 2, backend)

	// Overwrite the random initialization with known values.
	copy(layer.Weight().Tensor().Data(), []float32{1, 2, 3, 4}) // [[1 2] [3 4]]
	copy(layer.Bias().Tensor().Data(), []float32{10, 20})

	input, err := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	// y = x @ W.T + b = [1+2, 3+4] + [10, 20] = [13, 27]
	output := layer.Forward(input)
	got := output.Data()
	want := []float32{13, 27}
	for i := range want {
		if !floatEqual(got[i], want[i], 1e-5) {
			t.Errorf("output[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLinearRejectsBadInput(t *testing.T) {
	backend := autodiff.New(cpu.New())
	layer := nn.NewLinear(3, 2, backend)

	defer func() {
		if recover() == nil {
			t.Error("Forward should panic on wrong feature count")
		}
	}()
	input := tensor.Randn[float32](tensor.Shape{2, 4}, backend)
	layer.Forward(input)
}

func TestMSELossValue(t *testing.T) {
	backend := autodiff.New(cpu.New())
	mse := nn.NewMSELoss(backend)

	pred, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	target, err := tensor.FromSlice([]float32{1, 1, 1}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	// (0 + 1 + 4) / 3
	loss := mse.Forward(pred, target)
	if !floatEqual(loss.Item(), 5.0/3.0, 1e-5) {
		t.Errorf("loss = %v, want %v", loss.Item(), 5.0/3.0)
	}
}

func TestMSELossGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()
	defer backend.Tape().StopRecording()

	mse := nn.NewMSELoss(backend)

	pred, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	target, err := tensor.FromSlice([]float32{0, 0}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	loss := mse.Forward(pred, target)
	grads := autodiff.Backward(loss, backend)

	// dL/dpred = 2 * (pred - target) / n = [1, 2]
	grad := grads[pred.Raw()]
	if grad == nil {
		t.Fatal("no gradient for predictions")
	}
	got := grad.AsFloat32()
	want := []float32{1, 2}
	for i := range want {
		if !floatEqual(got[i], want[i], 1e-5) {
			t.Errorf("grad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLinearTrainsEndToEnd(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()
	defer backend.Tape().StopRecording()

	layer := nn.NewLinear(1, 1, backend)
	copy(layer.Weight().Tensor().Data(), []float32{0.5})

	input, err := tensor.FromSlice([]float32{2}, tensor.Shape{1, 1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	target, err := tensor.FromSlice([]float32{3}, tensor.Shape{1, 1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	mse := nn.NewMSELoss(backend)
	loss := mse.Forward(layer.Forward(input), target)
	grads := autodiff.Backward(loss, backend)

	// pred = 1, diff = -2, dL/dw = 2*diff*x = -8, dL/db = 2*diff = -4
	wGrad := grads[layer.Weight().Tensor().Raw()]
	if wGrad == nil {
		t.Fatal("no gradient for weight")
	}
	if !floatEqual(wGrad.AsFloat32()[0], -8, 1e-4) {
		t.Errorf("weight grad = %v, want -8", wGrad.AsFloat32()[0])
	}

	bGrad := grads[layer.Bias().Tensor().Raw()]
	if bGrad == nil {
		t.Fatal("no gradient for bias")
	}
	if !floatEqual(bGrad.AsFloat32()[0], -4, 1e-4) {
		t.Errorf("bias grad = %v, want -4", bGrad.AsFloat32()[0])
	}
}
