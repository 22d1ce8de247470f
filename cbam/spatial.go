package cbam

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// SpatialConvScope is the scope (relative to the module scope) of the spatial attention convolution.
const SpatialConvScope = "spatial_attention_conv"

// SpatialAttention reweights each pixel of x, shaped [batch, height, width, channels], by a gate in (0, 1).
//
// The gates are computed by a kernelSize x kernelSize convolution (same padding, stride 1, with bias) over
// the per-pixel average and maximum across channels, followed by a sigmoid. The convolution variables are
// created in ctx under SpatialConvScope.
//
// It returns x scaled by the gates, and the gates themselves shaped [batch, height, width, 1].
func SpatialAttention(ctx *context.Context, x *Node, kernelSize int) (output, gates *Node) {
	checkFeatureMap(x)
	if kernelSize <= 0 || kernelSize%2 == 0 {
		exceptions.Panicf("cbam.SpatialAttention: kernel size must be odd and > 0, got %d", kernelSize)
	}
	return spatialAttention(ctx, x, CombinedShape(x), kernelSize)
}

func spatialAttention(ctx *context.Context, x *Node, dims []Dim, kernelSize int) (output, gates *Node) {
	pooledDims := []Dim{dims[0], dims[1], dims[2], Known(1)}
	avgPool := ReshapeDims(ReduceMean(x, 3), pooledDims...)
	maxPool := ReshapeDims(ReduceMax(x, 3), pooledDims...)
	pooled := Concatenate([]*Node{avgPool, maxPool}, 3)

	gates = layers.Convolution(ctx.In(SpatialConvScope), pooled).
		Channels(1).
		KernelSize(kernelSize).
		Strides(1).
		PadSame().
		UseBias(true).
		Done()
	gates = Sigmoid(gates)
	output = Mul(x, gates)
	return
}
