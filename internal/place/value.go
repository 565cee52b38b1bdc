package place

import "github.com/spread-ml/spread/internal/tensor"

// Value is a tensor paired with a placement tag.
//
// An unplaced value is an ordinary tensor. A placed value carries one slice
// per member of its placement's group along the leading axis, so its
// outermost dimension always equals the placement's cardinality. Values are
// never mutated: every primitive produces a fresh Value.
type Value struct {
	raw       *tensor.RawTensor
	placement string // empty = unplaced
}

// Unplaced wraps a tensor as an ordinary, partition-free value.
func Unplaced(t *tensor.RawTensor) Value {
	return Value{raw: t}
}

// Placed tags a tensor as carrying one leading-axis slice per member of the
// named placement. The leading dimension is validated against the declared
// cardinality when the value enters a program or primitive.
func Placed(t *tensor.RawTensor, placement string) Value {
	return Value{raw: t, placement: placement}
}

// Raw returns the underlying tensor.
func (v Value) Raw() *tensor.RawTensor {
	return v.raw
}

// IsPlaced reports whether the value carries a placement tag.
func (v Value) IsPlaced() bool {
	return v.placement != ""
}

// PlacementName returns the placement tag, or "" for unplaced values.
func (v Value) PlacementName() string {
	return v.placement
}

// Shape returns the underlying tensor's shape. For a placed value this
// includes the leading group axis.
func (v Value) Shape() tensor.Shape {
	return v.raw.Shape()
}

// String returns a short description for logs and errors.
func (v Value) String() string {
	if v.IsPlaced() {
		return "Placed(" + v.placement + ", " + v.raw.Shape().String() + ")"
	}
	return "Unplaced(" + v.raw.Shape().String() + ")"
}
