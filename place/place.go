// Copyright 2025 Spread ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package place provides differentiable MapReduce-style primitives over
// placed tensors.
//
// A Program declares named placements (logical device groups with a fixed
// cardinality) and runs functions in which values are either unplaced
// (ordinary host tensors) or placed (sharded over a placement, carrying an
// extra leading axis of length equal to the cardinality). Four primitives
// move values between the two worlds:
//
//   - Broadcast: replicate an unplaced value onto a placement
//   - Map: apply a function independently to each shard
//   - ReduceSum, ReduceMean: collapse a placed value back to the host
//
// All four are differentiable; gradients flow through Program.Grad.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	prog, _ := place.New(backend, place.Placement{Name: "workers", Cardinality: 3})
//
//	out, _ := prog.Run(func(ctx *place.Context, args ...place.Value) (place.Value, error) {
//	    xs, _ := ctx.Broadcast(args[0], "workers")
//	    ys, _ := ctx.Map(square, xs)
//	    return ctx.ReduceMean(ys)
//	})
//
//	grads, _ := prog.Grad(out, args[0])
package place

import (
	"github.com/spread-ml/spread/autodiff"
	"github.com/spread-ml/spread/internal/place"
	"github.com/spread-ml/spread/tensor"
)

// Placement declares a named group of logical devices.
type Placement = place.Placement

// Context is the per-invocation primitive environment passed to the
// function run by a Program.
type Context = place.Context

// Value is a tensor tagged as placed or unplaced.
type Value = place.Value

// Program binds a backend to a set of declared placements.
type Program = place.Program

// Func is the signature of functions executed by Program.Run.
type Func = place.Func

// MapFunc is the per-shard function applied by Context.Map.
type MapFunc = place.MapFunc

// New creates a Program over the given backend and placements.
func New(backend autodiff.BackwardCapable, placements ...Placement) (*Program, error) {
	return place.New(backend, placements...)
}

// Unplaced tags a tensor as an ordinary host value.
func Unplaced(t *tensor.RawTensor) Value {
	return place.Unplaced(t)
}

// Placed tags a tensor as sharded over the named placement.
func Placed(t *tensor.RawTensor, placement string) Value {
	return place.Placed(t, placement)
}

// Validation errors. Match with errors.Is.
var (
	ErrInvalidCardinality               = place.ErrInvalidCardinality
	ErrCardinalityMismatch              = place.ErrCardinalityMismatch
	ErrPlacementMismatch                = place.ErrPlacementMismatch
	ErrNoActiveContext                  = place.ErrNoActiveContext
	ErrUnsupportedDifferentiationTarget = place.ErrUnsupportedDifferentiationTarget
)
