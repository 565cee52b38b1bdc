package place

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/parallel"
)

// Func is a program body: it receives the invocation's context and the
// validated arguments, and returns the program result. The context is only
// valid until Run returns.
type Func func(ctx *Context, args ...Value) (Value, error)

// Program binds a set of named placements to a host backend. Placements are
// validated once at construction; every invocation re-validates its placed
// arguments and rebuilds the context, so no state leaks across calls.
type Program struct {
	backend    autodiff.BackwardCapable
	placements []Placement
	byName     map[string]Placement
	par        parallel.Config
}

// New creates a program over the given backend with the declared
// placements. Fails with ErrInvalidCardinality if any cardinality < 1.
func New(backend autodiff.BackwardCapable, placements ...Placement) (*Program, error) {
	byName := make(map[string]Placement, len(placements))
	for _, p := range placements {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[p.Name]; dup {
			return nil, errors.Wrapf(ErrPlacementMismatch, "placement %q declared twice", p.Name)
		}
		byName[p.Name] = p
	}
	return &Program{
		backend:    backend,
		placements: append([]Placement(nil), placements...),
		byName:     byName,
		par:        parallel.DefaultConfig(),
	}, nil
}

// SetParallelism overrides the worker configuration used for map slices.
func (p *Program) SetParallelism(cfg parallel.Config) {
	p.par = cfg
}

// Backend returns the host backend the program traces on.
func (p *Program) Backend() autodiff.BackwardCapable {
	return p.backend
}

// Run invokes fn under a fresh placement context, tracing it on the host
// tape. Placed arguments are validated against the declared cardinalities
// before fn executes. The previous invocation's trace is discarded.
func (p *Program) Run(fn Func, args ...Value) (Value, error) {
	if err := p.validateArgs(args); err != nil {
		return Value{}, err
	}

	ctx := &Context{
		placements: p.placements,
		byName:     p.byName,
		backend:    p.backend,
		par:        p.par,
		active:     true,
	}
	defer func() { ctx.active = false }()

	klog.V(2).Infof("program run: %d placements, %d args", len(p.placements), len(args))

	tape := p.backend.GetTape()
	tape.Clear()
	tape.StartRecording()
	defer tape.StopRecording()

	return fn(ctx, args...)
}

// Grad differentiates the last Run trace: it returns the gradient of output
// with respect to each input, in order.
//
// Only the unplaced boundary is differentiable: a placed output or a placed
// input target fails with ErrUnsupportedDifferentiationTarget. Placed
// intermediates inside the trace are handled by the primitives' backward
// rules. Inputs the output does not depend on get zero gradients.
func (p *Program) Grad(output Value, inputs ...Value) ([]Value, error) {
	if output.IsPlaced() {
		return nil, errors.Wrapf(ErrUnsupportedDifferentiationTarget,
			"output is placed on %q at the program boundary", output.PlacementName())
	}
	for i, in := range inputs {
		if in.IsPlaced() {
			return nil, errors.Wrapf(ErrUnsupportedDifferentiationTarget,
				"input %d is placed on %q at the program boundary", i, in.PlacementName())
		}
	}

	tape := p.backend.GetTape()
	if tape.NumOps() == 0 {
		return nil, errors.New("grad: no recorded trace (call Run first)")
	}

	seed := autodiff.OnesLike(output.Raw(), p.backend)
	grads := tape.BackwardFrom(output.Raw(), seed, p.backend)

	result := make([]Value, len(inputs))
	for i, in := range inputs {
		g := grads[in.Raw()]
		if g == nil {
			g = zerosLike(in.Raw())
		}
		result[i] = Unplaced(g)
	}
	return result, nil
}

// validateArgs checks every placed argument against the declared
// placements: the tag must be declared and the leading dimension must equal
// the declared cardinality.
func (p *Program) validateArgs(args []Value) error {
	for i, a := range args {
		if !a.IsPlaced() {
			continue
		}
		spec, ok := p.byName[a.PlacementName()]
		if !ok {
			return errors.Wrapf(ErrPlacementMismatch,
				"argument %d: placement %q is not declared in this program", i, a.PlacementName())
		}
		shape := a.Shape()
		if len(shape) == 0 || shape[0] != spec.Cardinality {
			return errors.Wrapf(ErrCardinalityMismatch,
				"argument %d: shape %s does not carry leading axis %d for placement %q",
				i, shape, spec.Cardinality, spec.Name)
		}
	}
	return nil
}
