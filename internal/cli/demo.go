package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/backend/cpu"
	"github.com/spread-ml/spread/internal/place"
	"github.com/spread-ml/spread/internal/tensor"
)

// NewDemoCommand creates the demo command.
//
// The demo runs a small data-parallel gradient averaging program: a
// parameter vector is broadcast to a worker placement, each worker
// computes a squared-error loss against its own example, and the mean
// loss is differentiated back to the parameter.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the gradient averaging demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	backend := autodiff.New(cpu.New())

	prog, err := place.New(backend, place.Placement{Name: "workers", Cardinality: 3})
	if err != nil {
		return err
	}

	x, err := rawFromFloats([]float32{2, -1}, tensor.Shape{2})
	if err != nil {
		return err
	}
	y, err := rawFromFloats([]float32{1, 2, 3, -4, -7, 6}, tensor.Shape{3, 2})
	if err != nil {
		return err
	}

	// Per-worker loss: 0.5 * (dot(x, y_i) - 1)²
	perExample := func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		xi, yi := args[0], args[1]
		dot := b.Sum(b.Mul(xi, yi))
		diff := b.SubScalar(dot, float32(1))
		return b.MulScalar(b.Mul(diff, diff), float32(0.5)), nil
	}

	xv := place.Unplaced(x)
	out, err := prog.Run(func(ctx *place.Context, args ...place.Value) (place.Value, error) {
		xs, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return place.Value{}, err
		}
		losses, err := ctx.Map(perExample, xs, args[1])
		if err != nil {
			return place.Value{}, err
		}
		return ctx.ReduceMean(losses)
	}, xv, place.Placed(y, "workers"))
	if err != nil {
		return err
	}

	grads, err := prog.Grad(out, xv)
	if err != nil {
		return err
	}

	fmt.Printf("mean loss:  %.5f\n", out.Raw().AsFloat32()[0])
	fmt.Printf("grad wrt x: %v\n", grads[0].Raw().AsFloat32())
	return nil
}

func rawFromFloats(data []float32, shape tensor.Shape) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}
