package cbam

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Dim is one dimension of a shape descriptor: either a Known extent, available while building the graph,
// or a Deferred one, a scalar int32 node holding the extent that is only resolved at execution time.
//
// Both kinds are consumed uniformly by ReshapeDims.
type Dim struct {
	known    int
	deferred *Node
}

// Known returns a static dimension.
func Known(dim int) Dim {
	if dim < 0 {
		exceptions.Panicf("cbam.Known(%d): static dimensions must be >= 0", dim)
	}
	return Dim{known: dim}
}

// Deferred returns a dimension resolved at execution time from the scalar integer node.
func Deferred(size *Node) Dim {
	if size == nil {
		exceptions.Panicf("cbam.Deferred(nil): a deferred dimension requires a scalar node")
	}
	if !size.IsScalar() || !size.DType().IsInt() {
		exceptions.Panicf("cbam.Deferred(): the size of a deferred dimension must be an integer scalar, got %s", size.Shape())
	}
	return Dim{deferred: size}
}

// IsKnown returns whether the dimension is static.
func (d Dim) IsKnown() bool { return d.deferred == nil }

// Value returns the static extent. It panics if the dimension is deferred.
func (d Dim) Value() int {
	if !d.IsKnown() {
		exceptions.Panicf("cbam.Dim.Value(): dimension is only known at execution time")
	}
	return d.known
}

// Node returns the dimension as a scalar int32 node in g: static dimensions become constants.
func (d Dim) Node(g *Graph) *Node {
	if d.IsKnown() {
		return Const(g, int32(d.known))
	}
	if d.deferred.Graph() != g {
		exceptions.Panicf("cbam.Dim.Node(): deferred dimension belongs to a different graph")
	}
	return ConvertDType(d.deferred, dtypes.Int32)
}

// String implements fmt.Stringer. Deferred dimensions are printed as "?".
func (d Dim) String() string {
	if d.IsKnown() {
		return fmt.Sprintf("%d", d.known)
	}
	return "?"
}

// DimsString pretty prints a shape descriptor, e.g. "(2, ?, ?, 32)".
func DimsString(dims []Dim) string {
	parts := make([]string, len(dims))
	for ii, d := range dims {
		parts[ii] = d.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// CombinedShape returns the shape descriptor of x: one Dim per axis, preferring the statically known extent
// and falling back to the runtime size (GetDimensionSize) for dynamic axes -- axes with negative extents.
//
// For a fully static x, repeated calls return the same plain values.
func CombinedShape(x *Node) []Dim {
	return ResolveShape(x)
}

// ResolveShape is like CombinedShape, but the deferredAxes are always resolved at execution time with
// GetDimensionSize, even when their extent is static. Negative axes count from the end.
func ResolveShape(x *Node, deferredAxes ...int) []Dim {
	shape := x.Shape()
	rank := shape.Rank()
	deferred := make([]bool, rank)
	for _, axis := range deferredAxes {
		adjusted := axis
		if adjusted < 0 {
			adjusted += rank
		}
		if adjusted < 0 || adjusted >= rank {
			exceptions.Panicf("cbam.ResolveShape(): deferred axis %d out of bounds for rank %d", axis, rank)
		}
		deferred[adjusted] = true
	}
	dims := make([]Dim, rank)
	for axis, extent := range shape.Dimensions {
		if extent >= 0 && !deferred[axis] {
			dims[axis] = Known(extent)
		} else {
			dims[axis] = Deferred(GetDimensionSize(x, axis))
		}
	}
	return dims
}

// KnownDims returns the plain values of dims, and whether all of them were static.
// If any of them is deferred, it returns nil and false.
func KnownDims(dims []Dim) ([]int, bool) {
	values := make([]int, len(dims))
	for ii, d := range dims {
		if !d.IsKnown() {
			return nil, false
		}
		values[ii] = d.known
	}
	return values, true
}

// ReshapeDims reshapes x to the given shape descriptor.
//
// If all dims are known it is a static Reshape, otherwise the dims are stacked into a rank-1 int32 shape
// tensor and passed to DynamicReshape.
func ReshapeDims(x *Node, dims ...Dim) *Node {
	if len(dims) == 0 {
		exceptions.Panicf("cbam.ReshapeDims() requires at least one dimension")
	}
	if values, ok := KnownDims(dims); ok {
		return Reshape(x, values...)
	}
	g := x.Graph()
	parts := make([]*Node, len(dims))
	for ii, d := range dims {
		parts[ii] = d.Node(g)
	}
	return DynamicReshape(x, Stack(parts, 0))
}
