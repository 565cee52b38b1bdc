package place

import "github.com/pkg/errors"

// Validation errors surfaced by the placement layer. All are detected
// eagerly at the primitive-call boundary, before any forward computation,
// and indicate a program-construction defect rather than a transient
// condition. Match with errors.Is.
var (
	// ErrInvalidCardinality reports a declared placement with cardinality < 1.
	ErrInvalidCardinality = errors.New("invalid cardinality")

	// ErrCardinalityMismatch reports a placed value whose leading dimension
	// does not equal its placement's declared cardinality.
	ErrCardinalityMismatch = errors.New("cardinality mismatch")

	// ErrPlacementMismatch reports placed values from differently named
	// placements combined in one primitive, or a value whose placement tag
	// does not fit the primitive's contract.
	ErrPlacementMismatch = errors.New("placement mismatch")

	// ErrNoActiveContext reports a primitive invoked outside a running
	// program invocation.
	ErrNoActiveContext = errors.New("no active placement context")

	// ErrUnsupportedDifferentiationTarget reports differentiation requested
	// with respect to a placed value at the program boundary. Only
	// unplaced-in/unplaced-out differentiation is supported externally;
	// placed intermediates are fine.
	ErrUnsupportedDifferentiationTarget = errors.New("unsupported differentiation target")
)
