package place

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/backend/cpu"
	"github.com/spread-ml/spread/internal/parallel"
	"github.com/spread-ml/spread/internal/tensor"
)

func newProgram(t *testing.T, placements ...Placement) *Program {
	t.Helper()
	backend := autodiff.New(cpu.New())
	p, err := New(backend, placements...)
	require.NoError(t, err)
	return p
}

func raw32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func TestDeclareInvalidCardinality(t *testing.T) {
	backend := autodiff.New(cpu.New())

	_, err := New(backend, Placement{Name: "workers", Cardinality: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCardinality)

	_, err = New(backend, Placement{Name: "workers", Cardinality: -2})
	assert.ErrorIs(t, err, ErrInvalidCardinality)

	_, err = New(backend, Placement{Name: "workers", Cardinality: 1})
	assert.NoError(t, err)
}

func TestDeclareDuplicatePlacement(t *testing.T) {
	backend := autodiff.New(cpu.New())
	_, err := New(backend,
		Placement{Name: "workers", Cardinality: 2},
		Placement{Name: "workers", Cardinality: 3},
	)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestCardinalityMismatchOnRun(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 3})

	// Leading axis 2, declared cardinality 3
	y := Placed(raw32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2}), "workers")
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return args[0], nil
	}, y)
	assert.ErrorIs(t, err, ErrCardinalityMismatch)
}

func TestUndeclaredPlacementOnRun(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	y := Placed(raw32(t, []float32{1, 2}, tensor.Shape{2, 1}), "replicas")
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return args[0], nil
	}, y)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestBroadcastReduceSumRoundTrip(t *testing.T) {
	const n = 4
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	x := Unplaced(raw32(t, []float32{2.5}, tensor.Shape{1}))
	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		placed, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(placed)
	}, x)
	require.NoError(t, err)

	// reduce_sum(broadcast(x)) == n * x
	assert.False(t, out.IsPlaced())
	assert.InDelta(t, n*2.5, out.Raw().AsFloat32()[0], 1e-6)

	// and its gradient with respect to x equals n
	grads, err := p.Grad(out, x)
	require.NoError(t, err)
	assert.InDelta(t, float32(n), grads[0].Raw().AsFloat32()[0], 1e-6)
}

func TestBroadcastReduceMeanIdentity(t *testing.T) {
	const n = 5
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	x := Unplaced(raw32(t, []float32{3, -7}, tensor.Shape{2}))
	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		placed, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceMean(placed)
	}, x)
	require.NoError(t, err)

	// reduce_mean(broadcast(x)) == x, round-trip identity
	got := out.Raw().AsFloat32()
	assert.InDelta(t, 3, got[0], 1e-6)
	assert.InDelta(t, -7, got[1], 1e-6)

	// gradient with respect to x equals 1
	grads, err := p.Grad(out, x)
	require.NoError(t, err)
	g := grads[0].Raw().AsFloat32()
	assert.InDelta(t, 1, g[0], 1e-6)
	assert.InDelta(t, 1, g[1], 1e-6)
}

func TestBroadcastShapeAndTag(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 3})

	x := Unplaced(raw32(t, []float32{1, 2}, tensor.Shape{2}))
	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Broadcast(args[0], "workers")
	}, x)
	require.NoError(t, err)

	assert.True(t, out.IsPlaced())
	assert.Equal(t, "workers", out.PlacementName())
	require.True(t, out.Shape().Equal(tensor.Shape{3, 2}))
	// Every group member sees the same value
	data := out.Raw().AsFloat32()
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2}, data)
}

func TestBroadcastAlreadyPlaced(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	y := Placed(raw32(t, []float32{1, 2}, tensor.Shape{2, 1}), "workers")
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Broadcast(args[0], "workers")
	}, y)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestAdjointness(t *testing.T) {
	// The backward rule of broadcast must equal the forward rule of
	// reduce_sum, and vice versa, for every tested shape and cardinality.
	backend := cpu.New()

	for _, tc := range []struct {
		n     int
		shape tensor.Shape
	}{
		{2, tensor.Shape{3}},
		{3, tensor.Shape{2, 2}},
		{5, tensor.Shape{1}},
	} {
		t.Run(fmt.Sprintf("n=%d_shape=%v", tc.n, tc.shape), func(t *testing.T) {
			spec := Placement{Name: "workers", Cardinality: tc.n}

			placedShape := append(tensor.Shape{tc.n}, tc.shape...)
			placedData := make([]float32, placedShape.NumElements())
			for i := range placedData {
				placedData[i] = float32(i) + 0.5
			}
			placed := raw32(t, placedData, placedShape)

			// broadcast backward == reduce_sum forward
			bcast := &primitiveOp{kind: KindBroadcast, placement: spec}
			gotGrad := bcast.Backward(placed, backend)[0]
			wantSum := backend.SumDim(placed, 0, false)
			assert.Equal(t, wantSum.AsFloat32(), gotGrad.AsFloat32())

			// reduce_sum backward == broadcast forward
			unplacedData := make([]float32, tc.shape.NumElements())
			for i := range unplacedData {
				unplacedData[i] = float32(i) - 1.5
			}
			unplaced := raw32(t, unplacedData, tc.shape)

			rsum := &primitiveOp{kind: KindReduceSum, placement: spec}
			gotBcast := rsum.Backward(unplaced, backend)[0]
			wantBcast := replicate(unplaced, tc.n, backend)
			assert.Equal(t, wantBcast.AsFloat32(), gotBcast.AsFloat32())
		})
	}
}

func TestMapMatchesManualSlicing(t *testing.T) {
	const n = 3
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	data := []float32{1, 2, 3, 4, 5, 6}
	y := Placed(raw32(t, data, tensor.Shape{n, 2}), "workers")

	square := func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		return b.Mul(args[0], args[0]), nil
	}

	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Map(square, args[0])
	}, y)
	require.NoError(t, err)

	assert.True(t, out.IsPlaced())
	require.True(t, out.Shape().Equal(tensor.Shape{n, 2}))

	// Same per-slice results as applying f independently to each slice
	got := out.Raw().AsFloat32()
	for i, v := range data {
		assert.InDelta(t, v*v, got[i], 1e-6)
	}
}

func TestMapUnplacedArgumentIsShared(t *testing.T) {
	const n = 3
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	y := Placed(raw32(t, []float32{1, 2, 3}, tensor.Shape{n, 1}), "workers")
	scale := Unplaced(raw32(t, []float32{10}, tensor.Shape{1}))

	mulBy := func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		return b.Mul(args[0], args[1]), nil
	}

	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		scaled, err := ctx.Map(mulBy, args[0], args[1])
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(scaled)
	}, y, scale)
	require.NoError(t, err)
	assert.InDelta(t, 60, out.Raw().AsFloat32()[0], 1e-6)

	// d(sum_i y_i*s)/ds = sum_i y_i = 6: unplaced arg gradients sum over slices
	grads, err := p.Grad(out, scale)
	require.NoError(t, err)
	assert.InDelta(t, 6, grads[0].Raw().AsFloat32()[0], 1e-6)
}

func TestMapRequiresPlacedArgument(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	x := Unplaced(raw32(t, []float32{1}, tensor.Shape{1}))
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Map(func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
			return args[0], nil
		}, args[0])
	}, x)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestPlacementMismatchAcrossGroups(t *testing.T) {
	p := newProgram(t,
		Placement{Name: "workers", Cardinality: 2},
		Placement{Name: "replicas", Cardinality: 2},
	)

	a := Placed(raw32(t, []float32{1, 2}, tensor.Shape{2, 1}), "workers")
	b := Placed(raw32(t, []float32{3, 4}, tensor.Shape{2, 1}), "replicas")

	add := func(be tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		return be.Add(args[0], args[1]), nil
	}
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Map(add, args[0], args[1])
	}, a, b)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestMapErrorPassesThroughUnchanged(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})
	sentinel := errors.New("not differentiable here")

	y := Placed(raw32(t, []float32{1, 2}, tensor.Shape{2, 1}), "workers")
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.Map(func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
			return nil, sentinel
		}, args[0])
	}, y)
	assert.ErrorIs(t, err, sentinel)
}

func TestReductionLinearity(t *testing.T) {
	const n = 3
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	aData := []float32{1, 2, 3}
	bData := []float32{10, 20, 30}
	a := Placed(raw32(t, aData, tensor.Shape{n, 1}), "workers")
	b := Placed(raw32(t, bData, tensor.Shape{n, 1}), "workers")

	type result struct{ sumOfSum, sumA, sumB, meanOfSum, meanA, meanB float32 }
	var res result

	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		av, bv := args[0], args[1]

		add := func(be tensor.Backend, fargs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
			return be.Add(fargs[0], fargs[1]), nil
		}
		sumv, err := ctx.Map(add, av, bv)
		if err != nil {
			return Value{}, err
		}

		for _, step := range []struct {
			dst    *float32
			reduce func(Value) (Value, error)
			arg    Value
		}{
			{&res.sumOfSum, ctx.ReduceSum, sumv},
			{&res.sumA, ctx.ReduceSum, av},
			{&res.sumB, ctx.ReduceSum, bv},
			{&res.meanOfSum, ctx.ReduceMean, sumv},
			{&res.meanA, ctx.ReduceMean, av},
			{&res.meanB, ctx.ReduceMean, bv},
		} {
			out, err := step.reduce(step.arg)
			if err != nil {
				return Value{}, err
			}
			*step.dst = out.Raw().AsFloat32()[0]
		}
		return Unplaced(raw32(t, []float32{0}, tensor.Shape{1})), nil
	}, a, b)
	require.NoError(t, err)

	assert.InDelta(t, res.sumA+res.sumB, res.sumOfSum, 1e-5)
	assert.InDelta(t, res.meanA+res.meanB, res.meanOfSum, 1e-5)
}

func TestGradientAveragingScenario(t *testing.T) {
	// ℓ(x, y) = 0.5*(dot(x, y) - 1)², per-group losses averaged by
	// reduce_mean: the gradient with respect to x is the arithmetic mean of
	// the per-group gradients.
	const n = 3
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	x := Unplaced(raw32(t, []float32{2, -1}, tensor.Shape{2}))
	y := Placed(raw32(t, []float32{1, 2, 3, -4, -7, 6}, tensor.Shape{n, 2}), "workers")

	loss := func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		xs, ys := args[0], args[1]
		dot := b.Sum(b.Mul(xs, ys))
		diff := b.SubScalar(dot, float32(1))
		return b.MulScalar(b.Mul(diff, diff), float32(0.5)), nil
	}

	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		bx, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		losses, err := ctx.Map(loss, bx, args[1])
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceMean(losses)
	}, x, y)
	require.NoError(t, err)

	assert.InDelta(t, 87.16667, out.Raw().AsFloat32()[0], 1e-4)

	grads, err := p.Grad(out, x)
	require.NoError(t, err)
	g := grads[0].Raw().AsFloat32()
	assert.InDelta(t, 57.666668, g[0], 1e-4)
	assert.InDelta(t, -54.666668, g[1], 1e-4)
}

func TestNoActiveContext(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	var escaped *Context
	x := Unplaced(raw32(t, []float32{1}, tensor.Shape{1}))
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		escaped = ctx
		return args[0], nil
	}, x)
	require.NoError(t, err)

	// The context died with the invocation
	_, err = escaped.Broadcast(x, "workers")
	assert.ErrorIs(t, err, ErrNoActiveContext)
	_, err = escaped.ReduceSum(Placed(x.Raw(), "workers"))
	assert.ErrorIs(t, err, ErrNoActiveContext)

	// A zero context was never active
	var zero Context
	_, err = zero.Broadcast(x, "workers")
	assert.ErrorIs(t, err, ErrNoActiveContext)
}

func TestUnsupportedDifferentiationTarget(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	x := Unplaced(raw32(t, []float32{1}, tensor.Shape{1}))
	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		placed, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(placed)
	}, x)
	require.NoError(t, err)

	placed := Placed(raw32(t, []float32{1, 2}, tensor.Shape{2, 1}), "workers")

	_, err = p.Grad(placed, x)
	assert.ErrorIs(t, err, ErrUnsupportedDifferentiationTarget)

	_, err = p.Grad(out, placed)
	assert.ErrorIs(t, err, ErrUnsupportedDifferentiationTarget)
}

func TestReduceSumRequiresPlacedValue(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	x := Unplaced(raw32(t, []float32{1, 2}, tensor.Shape{2}))
	_, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		return ctx.ReduceSum(args[0])
	}, x)
	assert.ErrorIs(t, err, ErrPlacementMismatch)
}

func TestGradZeroForUnusedInput(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	x := Unplaced(raw32(t, []float32{4}, tensor.Shape{1}))
	unused := Unplaced(raw32(t, []float32{9}, tensor.Shape{1}))

	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		placed, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(placed)
	}, x, unused)
	require.NoError(t, err)

	grads, err := p.Grad(out, x, unused)
	require.NoError(t, err)
	assert.InDelta(t, 2, grads[0].Raw().AsFloat32()[0], 1e-6)
	assert.InDelta(t, 0, grads[1].Raw().AsFloat32()[0], 1e-6)
}

func TestSequentialParallelism(t *testing.T) {
	// Reductions must produce the same result for any traversal order; the
	// sequential configuration is the reference.
	const n = 4
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})
	p.SetParallelism(parallel.Sequential())

	y := Placed(raw32(t, []float32{1, 2, 3, 4}, tensor.Shape{n, 1}), "workers")
	double := func(b tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error) {
		return b.MulScalar(args[0], float32(2)), nil
	}

	out, err := p.Run(func(ctx *Context, args ...Value) (Value, error) {
		doubled, err := ctx.Map(double, args[0])
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(doubled)
	}, y)
	require.NoError(t, err)
	assert.InDelta(t, 20, out.Raw().AsFloat32()[0], 1e-6)
}

func TestRunRebuildsContext(t *testing.T) {
	p := newProgram(t, Placement{Name: "workers", Cardinality: 2})

	x := Unplaced(raw32(t, []float32{1}, tensor.Shape{1}))
	body := func(ctx *Context, args ...Value) (Value, error) {
		placed, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceSum(placed)
	}

	// Two invocations: the second must not see the first's trace
	out1, err := p.Run(body, x)
	require.NoError(t, err)
	out2, err := p.Run(body, x)
	require.NoError(t, err)
	assert.Equal(t, out1.Raw().AsFloat32()[0], out2.Raw().AsFloat32()[0])

	grads, err := p.Grad(out2, x)
	require.NoError(t, err)
	assert.InDelta(t, 2, grads[0].Raw().AsFloat32()[0], 1e-6)
}

func TestGradMatchesFiniteDifferences(t *testing.T) {
	// Compare the analytic gradient of a broadcast/map/reduce pipeline
	// against central finite differences on the same program.
	const n = 4
	p := newProgram(t, Placement{Name: "workers", Cardinality: n})

	xData := []float32{0.5, -1.2, 2.0}
	wData := []float32{1, -2, 0.3, 1.5, 0.7, -0.1, 2.2, -3, 0.9, 0.4, 1.1, -0.6}

	body := func(ctx *Context, args ...Value) (Value, error) {
		bx, err := ctx.Broadcast(args[0], "workers")
		if err != nil {
			return Value{}, err
		}
		prods, err := ctx.Map(func(b tensor.Backend, vs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
			pointwise := b.Mul(vs[0], vs[1])
			return b.Sum(b.Mul(pointwise, pointwise)), nil
		}, bx, args[1])
		if err != nil {
			return Value{}, err
		}
		return ctx.ReduceMean(prods)
	}

	eval := func(xs []float32) float32 {
		x := Unplaced(raw32(t, xs, tensor.Shape{3}))
		w := Placed(raw32(t, wData, tensor.Shape{n, 3}), "workers")
		out, err := p.Run(body, x, w)
		require.NoError(t, err)
		return out.Raw().AsFloat32()[0]
	}

	x := Unplaced(raw32(t, xData, tensor.Shape{3}))
	w := Placed(raw32(t, wData, tensor.Shape{n, 3}), "workers")
	out, err := p.Run(body, x, w)
	require.NoError(t, err)

	grads, err := p.Grad(out, x)
	require.NoError(t, err)
	analytic := grads[0].Raw().AsFloat32()

	const h = 1e-2
	for i := range xData {
		plus := append([]float32(nil), xData...)
		minus := append([]float32(nil), xData...)
		plus[i] += h
		minus[i] -= h
		numeric := (eval(plus) - eval(minus)) / (2 * h)
		assert.InDelta(t, numeric, analytic[i], 5e-2, "component %d", i)
	}
}
