// Package cbam implements the Convolutional Block Attention Module (CBAM) as a GoMLX layer.
//
// It reweights a feature map shaped [batch, height, width, channels] first per channel and then per pixel,
// with gates in (0, 1), so the output has exactly the input shape:
//
//   - ConvolutionalAttention: applies the module to a feature map, with the learned variables scoped by an index.
//   - New: a builder with the same functionality, where every option can be configured, and that can also
//     return the computed gates.
//   - ChannelAttention and SpatialAttention: the two sub-stages, usable on their own.
//   - CombinedShape, ResolveShape and ReshapeDims: shape descriptors mixing static and execution-time dimensions.
//
// As in GoMLX graph functions, it panics in case of errors.
package cbam

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

const (
	// ParamInnerUnitsRatio is the context hyperparameter with the default ratio of the channel attention
	// bottleneck width to the number of channels. Default is DefaultInnerUnitsRatio.
	ParamInnerUnitsRatio = "cbam_inner_units_ratio"

	// ParamSpatialKernelSize is the context hyperparameter with the default kernel size of the spatial
	// attention convolution. Default is DefaultSpatialKernelSize.
	ParamSpatialKernelSize = "cbam_spatial_kernel_size"

	DefaultInnerUnitsRatio   = 0.5
	DefaultSpatialKernelSize = 7
)

// Builder configures one attention module. Create it with New, configure it, and call Done or DoneWithGates.
type Builder struct {
	ctx               *context.Context
	x                 *Node
	index             any
	innerUnitsRatio   float64
	spatialKernelSize int
	deferredAxes      []int
}

// New prepares the attention module for the feature map x, shaped [batch, height, width, channels].
//
// The defaults for the inner units ratio and spatial kernel size are read from the context hyperparameters
// ParamInnerUnitsRatio and ParamSpatialKernelSize. The default index is 0.
func New(ctx *context.Context, x *Node) *Builder {
	return &Builder{
		ctx:               ctx,
		x:                 x,
		index:             0,
		innerUnitsRatio:   context.GetParamOr(ctx, ParamInnerUnitsRatio, DefaultInnerUnitsRatio),
		spatialKernelSize: context.GetParamOr(ctx, ParamSpatialKernelSize, DefaultSpatialKernelSize),
	}
}

// Index sets the index of the module: its variables are stored under the scope ScopeName(index).
//
// Calls with the same index share the same variables, different indices own independent ones.
func (b *Builder) Index(index any) *Builder {
	b.index = index
	return b
}

// InnerUnitsRatio sets the ratio of the bottleneck width of the channel attention dense layers to the
// number of channels. It must be > 0.
func (b *Builder) InnerUnitsRatio(ratio float64) *Builder {
	if ratio <= 0 {
		exceptions.Panicf("cbam: inner units ratio must be > 0, got %g", ratio)
	}
	b.innerUnitsRatio = ratio
	return b
}

// SpatialKernelSize sets the size of the square kernel of the spatial attention convolution.
// It must be odd, so the "same" padding is symmetric.
func (b *Builder) SpatialKernelSize(size int) *Builder {
	if size <= 0 || size%2 == 0 {
		exceptions.Panicf("cbam: spatial kernel size must be odd and > 0, got %d", size)
	}
	b.spatialKernelSize = size
	return b
}

// DeferredAxes marks axes of the feature map (batch, height or width) whose extents are read at execution
// time, with GetDimensionSize, instead of taken from the static shape. Axes that are already dynamic in the
// feature map are always deferred.
//
// The channels axis must stay static, since it sizes the learned variables.
func (b *Builder) DeferredAxes(axes ...int) *Builder {
	for _, axis := range axes {
		if axis < 0 || axis > 2 {
			exceptions.Panicf("cbam: only the batch, height and width axes (0, 1, 2) can be deferred, got %d", axis)
		}
	}
	b.deferredAxes = append(b.deferredAxes, axes...)
	return b
}

// Scope returns the context scope where the module variables are stored.
func (b *Builder) Scope() string {
	return ScopeName(b.index)
}

// Done builds the module and returns the feature map with attention applied, shaped as the input.
func (b *Builder) Done() *Node {
	output, _, _ := b.DoneWithGates()
	return output
}

// DoneWithGates builds the module and returns the output along with the gates used:
//
//   - output: same shape as the input.
//   - channelGates: shaped [batch, 1, 1, channels], values in (0, 1).
//   - spatialGates: shaped [batch, height, width, 1], values in (0, 1).
func (b *Builder) DoneWithGates() (output, channelGates, spatialGates *Node) {
	checkFeatureMap(b.x)
	if b.innerUnitsRatio <= 0 {
		exceptions.Panicf("cbam: inner units ratio must be > 0, got %g", b.innerUnitsRatio)
	}
	if b.spatialKernelSize <= 0 || b.spatialKernelSize%2 == 0 {
		exceptions.Panicf("cbam: spatial kernel size must be odd and > 0, got %d", b.spatialKernelSize)
	}
	ctx := b.ctx.In(b.Scope()).Checked(false)
	if klog.V(1).Enabled() {
		klog.Infof("cbam: building %q for feature map %s: bottleneck=%d, spatial kernel=%dx%d",
			ctx.Scope(), b.x.Shape(),
			BottleneckUnits(b.x.Shape().Dimensions[3], b.innerUnitsRatio), b.spatialKernelSize, b.spatialKernelSize)
	}
	dims := ResolveShape(b.x, b.deferredAxes...)
	klog.V(2).Infof("cbam: %q feature map dims %s", ctx.Scope(), DimsString(dims))
	var withChannelAttention *Node
	withChannelAttention, channelGates = channelAttention(ctx, b.x, dims, b.innerUnitsRatio)
	output, spatialGates = spatialAttention(ctx, withChannelAttention, dims, b.spatialKernelSize)
	return
}

// ConvolutionalAttention applies channel attention followed by spatial attention to the featureMap, shaped
// [batch, height, width, channels], and returns a tensor with the same shape.
//
// The learned variables are created (or reused) in ctx under the scope ScopeName(index).
// If innerUnitsRatio <= 0, the context hyperparameter ParamInnerUnitsRatio is used (default 0.5).
func ConvolutionalAttention(ctx *context.Context, featureMap *Node, index any, innerUnitsRatio float64) *Node {
	b := New(ctx, featureMap).Index(index)
	if innerUnitsRatio > 0 {
		b.InnerUnitsRatio(innerUnitsRatio)
	}
	return b.Done()
}

// checkFeatureMap panics if x is not a float tensor shaped [batch, height, width, channels] with a static
// number of channels.
func checkFeatureMap(x *Node) {
	if x == nil {
		exceptions.Panicf("cbam: feature map is nil")
	}
	if x.Rank() != 4 {
		exceptions.Panicf("cbam: feature map must be shaped [batch, height, width, channels], got %s", x.Shape())
	}
	if !x.DType().IsFloat() {
		exceptions.Panicf("cbam: feature map must be a float tensor, got %s", x.Shape())
	}
	if x.Shape().Dimensions[3] <= 0 {
		exceptions.Panicf("cbam: the number of channels must be known while building the graph, got %s",
			DimsString(CombinedShape(x)))
	}
}
