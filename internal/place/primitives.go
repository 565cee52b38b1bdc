package place

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/parallel"
	"github.com/spread-ml/spread/internal/tensor"
)

// MapFunc is the per-slice computation passed to Map. It receives a backend
// that records onto the slice's own sub-tape, so anything differentiable
// expressed through it gets a correct per-slice vector-Jacobian product
// during the backward pass. It must be pure: no shared mutable state across
// slices, no dependence on slice order.
type MapFunc func(backend tensor.Backend, args ...*tensor.RawTensor) (*tensor.RawTensor, error)

// Broadcast replicates an unplaced value along a new leading axis of length
// cardinality(placement): every group member receives the same value. Only
// value equality is guaranteed, not aliasing.
//
// Gradient: the leading axis of the output gradient is summed away, the
// dual of ReduceSum.
func (c *Context) Broadcast(x Value, placement string) (Value, error) {
	if err := c.checkActive("broadcast"); err != nil {
		return Value{}, err
	}
	if x.IsPlaced() {
		return Value{}, errors.Wrapf(ErrPlacementMismatch, "broadcast: value is already placed on %q", x.PlacementName())
	}
	spec, ok := c.byName[placement]
	if !ok {
		return Value{}, errors.Wrapf(ErrPlacementMismatch, "broadcast: placement %q is not declared in this program", placement)
	}

	klog.V(2).Infof("broadcast %s -> %s[%d]", x.Shape(), spec.Name, spec.Cardinality)

	var out *tensor.RawTensor
	c.untraced(func() {
		out = replicate(x.Raw(), spec.Cardinality, c.backend)
	})
	c.record(&primitiveOp{
		kind:      KindBroadcast,
		inputs:    []*tensor.RawTensor{x.Raw()},
		output:    out,
		placement: spec,
	})
	return Value{raw: out, placement: spec.Name}, nil
}

// ReduceSum sums a placed value across the leading axis, producing an
// unplaced value. The reduction is associative and commutative, so any
// traversal order is valid up to floating-point tolerance.
//
// Gradient: the output gradient is broadcast to every group member, the
// dual of Broadcast.
func (c *Context) ReduceSum(x Value) (Value, error) {
	if err := c.checkActive("reduce_sum"); err != nil {
		return Value{}, err
	}
	spec, err := c.resolve("reduce_sum", x)
	if err != nil {
		return Value{}, err
	}

	klog.V(2).Infof("reduce_sum %s[%d] %s", spec.Name, spec.Cardinality, x.Shape())

	var out *tensor.RawTensor
	c.untraced(func() {
		out = c.backend.SumDim(x.Raw(), 0, false)
	})
	c.record(&primitiveOp{
		kind:      KindReduceSum,
		inputs:    []*tensor.RawTensor{x.Raw()},
		output:    out,
		placement: spec,
	})
	return Unplaced(out), nil
}

// ReduceMean averages a placed value across the leading axis:
// reduce_sum(x) / cardinality.
//
// Gradient: broadcast of the output gradient scaled by 1/cardinality — the
// operator that gives a program averaged-gradient-descent semantics.
func (c *Context) ReduceMean(x Value) (Value, error) {
	if err := c.checkActive("reduce_mean"); err != nil {
		return Value{}, err
	}
	spec, err := c.resolve("reduce_mean", x)
	if err != nil {
		return Value{}, err
	}

	klog.V(2).Infof("reduce_mean %s[%d] %s", spec.Name, spec.Cardinality, x.Shape())

	var out *tensor.RawTensor
	c.untraced(func() {
		out = c.backend.MeanDim(x.Raw(), 0, false)
	})
	c.record(&primitiveOp{
		kind:      KindReduceMean,
		inputs:    []*tensor.RawTensor{x.Raw()},
		output:    out,
		placement: spec,
	})
	return Unplaced(out), nil
}

// Map applies f independently to each group-member slice of the placed
// arguments, stacking the per-slice outputs back into a placed value.
// Unplaced arguments are passed unchanged to every slice: logically shared,
// not broadcast-expanded in storage.
//
// At least one argument must be placed, and all placed arguments must share
// one placement. f is traced on a per-slice sub-tape, so it may be any
// differentiable computation, not just the placement primitives. Slices are
// executed through the parallel worker pool.
//
// Gradient: the per-slice vector-Jacobian product of f; placed arguments
// receive stacked slice gradients, unplaced arguments the sum over slices.
func (c *Context) Map(f MapFunc, args ...Value) (Value, error) {
	if err := c.checkActive("map"); err != nil {
		return Value{}, err
	}
	spec, err := c.mapPlacement(args)
	if err != nil {
		return Value{}, err
	}
	n := spec.Cardinality

	klog.V(2).Infof("map %s[%d] over %d args", spec.Name, n, len(args))

	placedArg := make([]bool, len(args))
	rawInputs := make([]*tensor.RawTensor, len(args))
	for j, a := range args {
		placedArg[j] = a.IsPlaced()
		rawInputs[j] = a.Raw()
	}

	st := &mapState{
		subTapes:     make([]*autodiff.GradientTape, n),
		sliceInputs:  make([][]*tensor.RawTensor, n),
		sliceOutputs: make([]*tensor.RawTensor, n),
		placedArg:    placedArg,
		par:          c.par,
	}

	var out *tensor.RawTensor
	var sliceErr error
	c.untraced(func() {
		// Pre-slice the placed arguments along the leading axis.
		argSlices := make([][]*tensor.RawTensor, len(args))
		for j, a := range args {
			if !placedArg[j] {
				continue
			}
			parts := c.backend.Chunk(a.Raw(), n, 0)
			argSlices[j] = make([]*tensor.RawTensor, n)
			for i, part := range parts {
				argSlices[j][i] = c.backend.Squeeze(part, 0)
			}
		}

		errs := make([]error, n)
		parallel.For(n, func(i int) {
			sub := autodiff.New[tensor.Backend](c.backend)
			sub.Tape().StartRecording()

			sliceArgs := make([]*tensor.RawTensor, len(args))
			for j := range args {
				if placedArg[j] {
					sliceArgs[j] = argSlices[j][i]
				} else {
					sliceArgs[j] = rawInputs[j]
				}
			}

			result, err := f(sub, sliceArgs...)
			if err != nil {
				errs[i] = err
				return
			}
			sub.Tape().StopRecording()

			st.subTapes[i] = sub.Tape()
			st.sliceInputs[i] = sliceArgs
			st.sliceOutputs[i] = result
		}, c.par)

		for _, err := range errs {
			if err != nil {
				// f's own error passes through unchanged.
				sliceErr = err
				return
			}
		}

		stacked := make([]*tensor.RawTensor, n)
		for i, slice := range st.sliceOutputs {
			stacked[i] = c.backend.Unsqueeze(slice, 0)
		}
		out = c.backend.Cat(stacked, 0)
	})
	if sliceErr != nil {
		return Value{}, sliceErr
	}

	c.record(&primitiveOp{
		kind:      KindMap,
		inputs:    rawInputs,
		output:    out,
		placement: spec,
		mapState:  st,
	})
	return Value{raw: out, placement: spec.Name}, nil
}

// mapPlacement validates map's arguments: at least one placed value, all
// placed values on the same placement, cardinalities checked eagerly.
func (c *Context) mapPlacement(args []Value) (Placement, error) {
	var spec Placement
	found := false
	for _, a := range args {
		if !a.IsPlaced() {
			continue
		}
		s, err := c.resolve("map", a)
		if err != nil {
			return Placement{}, err
		}
		if found && s.Name != spec.Name {
			return Placement{}, errors.Wrapf(ErrPlacementMismatch,
				"map: arguments placed on %q and %q cannot be combined", spec.Name, s.Name)
		}
		spec = s
		found = true
	}
	if !found {
		return Placement{}, errors.Wrap(ErrPlacementMismatch, "map requires at least one placed argument")
	}
	return spec, nil
}

// untraced runs fn with host-tape recording paused, so a primitive's
// forward decomposition stays opaque to the tape: only the primitiveOp
// recorded afterwards is differentiated, via its registered rule.
func (c *Context) untraced(fn func()) {
	tape := c.backend.GetTape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()
	fn()
}

func (c *Context) record(op *primitiveOp) {
	c.backend.GetTape().Record(op)
}
