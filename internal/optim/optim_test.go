package optim_test

import (
	"math"
	"testing"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/backend/cpu"
	"github.com/spread-ml/spread/internal/nn"
	"github.com/spread-ml/spread/internal/optim"
	"github.com/spread-ml/spread/internal/tensor"
)

func floatEqual(a, b, epsilon float32) bool {
	return math.Abs(float64(a-b)) < float64(epsilon)
}

func TestSGDStep(t *testing.T) {
	backend := autodiff.New(cpu.New())

	paramTensor, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param := nn.NewParameter("weight", paramTensor)

	gradRaw, err := tensor.NewRaw(tensor.Shape{3}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	copy(gradRaw.AsFloat32(), []float32{1, 1, 1})

	sgd := optim.NewSGD([]*nn.Parameter[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{param},
		optim.SGDConfig{LR: 0.1})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{paramTensor.Raw(): gradRaw}
	sgd.Step(grads)

	got := paramTensor.Data()
	want := []float32{0.9, 1.9, 2.9}
	for i := range want {
		if !floatEqual(got[i], want[i], 1e-6) {
			t.Errorf("param[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSGDSkipsParamsWithoutGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())

	paramTensor, err := tensor.FromSlice([]float32{5}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param := nn.NewParameter("bias", paramTensor)

	sgd := optim.NewSGD([]*nn.Parameter[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{param},
		optim.SGDConfig{LR: 0.1})

	sgd.Step(map[*tensor.RawTensor]*tensor.RawTensor{})

	if paramTensor.Data()[0] != 5 {
		t.Errorf("param = %v, want 5 (unchanged)", paramTensor.Data()[0])
	}
}

func TestSGDMomentum(t *testing.T) {
	backend := autodiff.New(cpu.New())

	paramTensor, err := tensor.FromSlice([]float32{1}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param := nn.NewParameter("weight", paramTensor)

	gradRaw, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	gradRaw.AsFloat32()[0] = 1

	sgd := optim.NewSGD([]*nn.Parameter[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{param},
		optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{paramTensor.Raw(): gradRaw}

	// Step 1: v = 1, param = 1 - 0.1 = 0.9
	sgd.Step(grads)
	if !floatEqual(paramTensor.Data()[0], 0.9, 1e-6) {
		t.Errorf("after step 1: param = %v, want 0.9", paramTensor.Data()[0])
	}

	// Step 2: v = 0.9 + 1 = 1.9, param = 0.9 - 0.19 = 0.71
	sgd.Step(grads)
	if !floatEqual(paramTensor.Data()[0], 0.71, 1e-6) {
		t.Errorf("after step 2: param = %v, want 0.71", paramTensor.Data()[0])
	}
}

func TestSGDDefaults(t *testing.T) {
	sgd := optim.NewSGD[*cpu.CPUBackend](nil, optim.SGDConfig{})
	if !floatEqual(sgd.GetLR(), 0.01, 1e-9) {
		t.Errorf("default LR = %v, want 0.01", sgd.GetLR())
	}

	sgd.SetLR(0.5)
	if !floatEqual(sgd.GetLR(), 0.5, 1e-9) {
		t.Errorf("after SetLR: LR = %v, want 0.5", sgd.GetLR())
	}
}

func TestSGDZeroGrad(t *testing.T) {
	backend := autodiff.New(cpu.New())

	paramTensor, err := tensor.FromSlice([]float32{1}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param := nn.NewParameter("weight", paramTensor)

	grad, err := tensor.FromSlice([]float32{2}, tensor.Shape{1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	param.SetGrad(grad)

	sgd := optim.NewSGD([]*nn.Parameter[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{param},
		optim.SGDConfig{LR: 0.1})
	sgd.ZeroGrad()

	if param.Grad() != nil {
		t.Error("ZeroGrad should clear the parameter gradient")
	}
}

func TestSGDTrainsLinearRegression(t *testing.T) {
	backend := autodiff.New(cpu.New())

	layer := nn.NewLinear(1, 1, backend)
	mse := nn.NewMSELoss(backend)
	sgd := optim.NewSGD(layer.Parameters(), optim.SGDConfig{LR: 0.05})

	// y = 2x + 1
	input, err := tensor.FromSlice([]float32{-1, 0, 1, 2}, tensor.Shape{4, 1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	target, err := tensor.FromSlice([]float32{-1, 1, 3, 5}, tensor.Shape{4, 1}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	var loss *tensor.Tensor[float32, *autodiff.AutodiffBackend[*cpu.CPUBackend]]
	for i := 0; i < 200; i++ {
		backend.Tape().Clear()
		backend.Tape().StartRecording()
		loss = mse.Forward(layer.Forward(input), target)
		backend.Tape().StopRecording()

		grads := autodiff.Backward(loss, backend)
		sgd.Step(grads)
		sgd.ZeroGrad()
	}

	if loss.Item() > 1e-3 {
		t.Errorf("final loss = %v, want < 1e-3", loss.Item())
	}
	if !floatEqual(layer.Weight().Tensor().Data()[0], 2, 0.05) {
		t.Errorf("learned weight = %v, want ~2", layer.Weight().Tensor().Data()[0])
	}
	if !floatEqual(layer.Bias().Tensor().Data()[0], 1, 0.05) {
		t.Errorf("learned bias = %v, want ~1", layer.Bias().Tensor().Data()[0])
	}
}
