// Package place implements differentiable MapReduce-shaped primitives over
// the gradient tape: broadcast, map, reduce-sum and reduce-mean across a
// named group of logical workers.
//
// A Placement names a partition axis and fixes its group size (cardinality).
// Values are either unplaced (ordinary tensors) or placed (one leading-axis
// slice per group member). The four primitives cross the partition boundary
// with custom gradient rules, so reverse-mode differentiation through a
// distributed-style program computes the mathematically correct summed or
// averaged gradients.
//
// The layer introduces no distribution and no concurrency semantics of its
// own: it is a value/rule algebra executed by the host backend, which is
// free to run independent group-member slices in parallel.
package place

import (
	"github.com/pkg/errors"

	"github.com/spread-ml/spread/internal/autodiff"
	"github.com/spread-ml/spread/internal/parallel"
)

// Placement declares a named worker group: a partition axis with a fixed
// group size. Immutable after declaration.
type Placement struct {
	Name        string
	Cardinality int
}

// Validate checks the declaration.
func (p Placement) Validate() error {
	if p.Name == "" {
		return errors.Wrap(ErrPlacementMismatch, "placement name must not be empty")
	}
	if p.Cardinality < 1 {
		return errors.Wrapf(ErrInvalidCardinality, "placement %q declared with cardinality %d", p.Name, p.Cardinality)
	}
	return nil
}

// Context carries the placements of one program invocation. It is built by
// Program.Run, read-only while the invocation's function executes, and
// deactivated when the invocation returns: a primitive called on a stale or
// zero Context fails with ErrNoActiveContext.
type Context struct {
	placements []Placement
	byName     map[string]Placement
	backend    autodiff.BackwardCapable
	par        parallel.Config
	active     bool
}

// Backend returns the host backend, for ordinary (non-primitive) arithmetic
// inside a program function. Operations issued through it are recorded on
// the invocation's tape and differentiate normally.
func (c *Context) Backend() autodiff.BackwardCapable {
	return c.backend
}

// Placements returns the declared placements in declaration order.
func (c *Context) Placements() []Placement {
	return c.placements
}

// Placement looks up a placement by name.
func (c *Context) Placement(name string) (Placement, bool) {
	p, ok := c.byName[name]
	return p, ok
}

func (c *Context) checkActive(primitive string) error {
	if c == nil || !c.active {
		return errors.Wrapf(ErrNoActiveContext, "%s called outside a program invocation", primitive)
	}
	return nil
}

// resolve returns the placement spec a placed value refers to, validating
// the tag and the leading-axis cardinality eagerly, before any forward
// computation.
func (c *Context) resolve(primitive string, v Value) (Placement, error) {
	if !v.IsPlaced() {
		return Placement{}, errors.Wrapf(ErrPlacementMismatch, "%s requires a placed value, got %s", primitive, v)
	}
	spec, ok := c.byName[v.PlacementName()]
	if !ok {
		return Placement{}, errors.Wrapf(ErrPlacementMismatch, "%s: placement %q is not declared in this program", primitive, v.PlacementName())
	}
	shape := v.Shape()
	if len(shape) == 0 || shape[0] != spec.Cardinality {
		return Placement{}, errors.Wrapf(ErrCardinalityMismatch,
			"%s: value shape %s does not carry leading axis %d for placement %q",
			primitive, shape, spec.Cardinality, spec.Name)
	}
	return spec, nil
}
