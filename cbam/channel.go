package cbam

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Scopes (relative to the module scope) of the channel attention dense layers.
const (
	ChannelFC1Scope = "fc_1"
	ChannelFC2Scope = "fc_2"
)

// BottleneckUnits returns the width of the channel attention bottleneck: channels*ratio rounded, at least 1.
func BottleneckUnits(channels int, ratio float64) int {
	units := int(math.Round(float64(channels) * ratio))
	return max(units, 1)
}

// ChannelAttention reweights each channel of x, shaped [batch, height, width, channels], by a gate in (0, 1)
// computed from the spatial average and maximum of the channel.
//
// Both pooled descriptors go through the same two dense layers (ChannelFC1Scope with a ReLU and
// ChannelFC2Scope without activation) created in ctx; the results are summed and passed through a sigmoid.
//
// It returns x scaled by the gates, and the gates themselves shaped [batch, 1, 1, channels].
func ChannelAttention(ctx *context.Context, x *Node, innerUnitsRatio float64) (output, gates *Node) {
	checkFeatureMap(x)
	if innerUnitsRatio <= 0 {
		exceptions.Panicf("cbam.ChannelAttention: inner units ratio must be > 0, got %g", innerUnitsRatio)
	}
	return channelAttention(ctx, x, CombinedShape(x), innerUnitsRatio)
}

// channelAttention implements ChannelAttention with the shape descriptor dims of x.
func channelAttention(ctx *context.Context, x *Node, dims []Dim, innerUnitsRatio float64) (output, gates *Node) {
	batchDim, channelsDim := dims[0], dims[3]
	channels := channelsDim.Value()

	// Global descriptors per channel, paired as [batch, 2, channels]: index 0 is the average, 1 the max.
	avgPool := ReshapeDims(ReduceMean(x, 1, 2), batchDim, Known(1), channelsDim)
	maxPool := ReshapeDims(ReduceMax(x, 1, 2), batchDim, Known(1), channelsDim)
	descriptors := Concatenate([]*Node{avgPool, maxPool}, 1)

	// Shared multi-layer perceptron.
	hidden := layers.Dense(ctx.In(ChannelFC1Scope), descriptors, true, BottleneckUnits(channels, innerUnitsRatio))
	hidden = activations.Relu(hidden)
	logits := layers.Dense(ctx.In(ChannelFC2Scope), hidden, true, channels)

	gates = Sigmoid(ReduceSum(logits, 1))
	gates = ReshapeDims(gates, batchDim, Known(1), Known(1), channelsDim)
	output = Mul(x, gates)
	return
}
