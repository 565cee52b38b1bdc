package place

import (
	"fmt"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/parallel"
	"github.com/spread-ml/spread/internal/tensor"
)

// Kind identifies one of the placement primitives. The set is sealed: each
// kind binds to exactly one backward rule in the rule table, and the host
// tape treats a recorded primitive as opaque, consulting the table instead
// of differentiating through the forward decomposition.
type Kind int

// Primitive kinds.
const (
	KindBroadcast Kind = iota
	KindMap
	KindReduceSum
	KindReduceMean
)

// String returns the primitive name.
func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindMap:
		return "map"
	case KindReduceSum:
		return "reduce_sum"
	case KindReduceMean:
		return "reduce_mean"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// backwardRule turns a primitive's output gradient into input gradients,
// in op.Inputs() order.
type backwardRule func(op *primitiveOp, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

var backwardRules = make(map[Kind]backwardRule)

// register binds a primitive kind to its backward rule. Called once per
// kind at package init; re-binding a kind is a programming error.
func register(kind Kind, rule backwardRule) {
	if _, dup := backwardRules[kind]; dup {
		panic(fmt.Sprintf("place: backward rule for %s registered twice", kind))
	}
	backwardRules[kind] = rule
}

func init() {
	register(KindBroadcast, broadcastBackward)
	register(KindMap, mapBackward)
	register(KindReduceSum, reduceSumBackward)
	register(KindReduceMean, reduceMeanBackward)
}

// primitiveOp is a placement primitive recorded on the host tape. It
// satisfies ops.Operation, so the tape walker invokes the registered
// backward rule exactly like any other operation's backward pass.
type primitiveOp struct {
	kind      Kind
	inputs    []*tensor.RawTensor
	output    *tensor.RawTensor
	placement Placement
	mapState  *mapState // non-nil only for KindMap
}

// mapState is the per-invocation trace of a map primitive: one sub-tape per
// group-member slice, plus the slice-level tensors the backward replay keys
// on.
type mapState struct {
	subTapes     []*autodiff.GradientTape
	sliceInputs  [][]*tensor.RawTensor // [slice][arg]
	sliceOutputs []*tensor.RawTensor   // [slice]
	placedArg    []bool                // [arg], true if the arg was sliced
	par          parallel.Config
}

// Backward dispatches to the registered rule for this primitive's kind.
func (op *primitiveOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	rule, ok := backwardRules[op.kind]
	if !ok {
		panic(fmt.Sprintf("place: no backward rule registered for %s", op.kind))
	}
	return rule(op, outputGrad, backend)
}

// Inputs returns the primitive's input tensors.
func (op *primitiveOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the primitive's output tensor.
func (op *primitiveOp) Output() *tensor.RawTensor {
	return op.output
}

// broadcastBackward: the output gradient is placed [n, ...x.shape]; every
// copy of x contributed additively downstream, so by linearity the copies'
// gradients sum over the leading axis. The exact dual of reduce_sum's
// forward rule.
func broadcastBackward(op *primitiveOp, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.SumDim(outputGrad, 0, false)}
}

// reduceSumBackward: the unplaced output gradient is replicated to every
// group member. The exact dual of broadcast's forward rule.
func reduceSumBackward(op *primitiveOp, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{replicate(outputGrad, op.placement.Cardinality, backend)}
}

// reduceMeanBackward: like reduce_sum, scaled by 1/cardinality. Each group
// member's contribution to an average carries weight 1/n, which is what
// turns a per-member loss into averaged-gradient descent semantics.
func reduceMeanBackward(op *primitiveOp, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	n := op.placement.Cardinality
	grad := replicate(outputGrad, n, backend)
	grad = backend.DivScalar(grad, scalarOf(grad.DType(), float64(n)))
	return []*tensor.RawTensor{grad}
}

// mapBackward replays each slice's sub-tape with the matching slice of the
// output gradient: the per-slice vector-Jacobian product of the mapped
// function. Placed arguments get their slice gradients stacked back along
// the leading axis; unplaced arguments were shared by every slice, so their
// slice gradients sum (symmetric to broadcast).
func mapBackward(op *primitiveOp, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	st := op.mapState
	n := op.placement.Cardinality

	gradParts := backend.Chunk(outputGrad, n, 0)
	perSlice := make([][]*tensor.RawTensor, n)

	// Slices are independent pure replays, safe to run in parallel.
	parallel.For(n, func(i int) {
		gradSlice := backend.Squeeze(gradParts[i], 0)
		grads := st.subTapes[i].BackwardFrom(st.sliceOutputs[i], gradSlice, backend)

		row := make([]*tensor.RawTensor, len(st.sliceInputs[i]))
		for j, in := range st.sliceInputs[i] {
			g := grads[in]
			if g == nil {
				if in == st.sliceOutputs[i] {
					// f returned its argument unchanged.
					g = gradSlice
				} else {
					g = zerosLike(in)
				}
			}
			row[j] = g
		}
		perSlice[i] = row
	}, st.par)

	result := make([]*tensor.RawTensor, len(op.inputs))
	for j := range op.inputs {
		if st.placedArg[j] {
			parts := make([]*tensor.RawTensor, n)
			for i := 0; i < n; i++ {
				parts[i] = backend.Unsqueeze(perSlice[i][j], 0)
			}
			result[j] = backend.Cat(parts, 0)
		} else {
			sum := perSlice[0][j]
			for i := 1; i < n; i++ {
				sum = backend.Add(sum, perSlice[i][j])
			}
			result[j] = sum
		}
	}
	return result
}

// replicate expands a tensor along a new leading axis of length n.
func replicate(t *tensor.RawTensor, n int, backend tensor.Backend) *tensor.RawTensor {
	target := append(tensor.Shape{n}, t.Shape()...)
	return backend.Expand(backend.Unsqueeze(t, 0), target)
}

func zerosLike(t *tensor.RawTensor) *tensor.RawTensor {
	zero, err := tensor.NewRaw(t.Shape(), t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("place: zero gradient: %v", err))
	}
	return zero
}

// scalarOf converts v to the Go type matching the tensor dtype.
func scalarOf(dtype tensor.DataType, v float64) any {
	switch dtype {
	case tensor.Float32:
		return float32(v)
	case tensor.Float64:
		return v
	default:
		panic(fmt.Sprintf("place: unsupported dtype %v", dtype))
	}
}
