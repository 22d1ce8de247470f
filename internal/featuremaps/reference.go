package featuremaps

import (
	"sort"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gomlx/cbam-gomlx/cbam"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Reference is a plain Go, float32, implementation of the attention module, used to check and benchmark
// the GoMLX graph. Its weights are usually read from a context with ReferenceFromContext.
type Reference struct {
	Channels, Units, KernelSize int

	// FC1Weights is shaped [Channels, Units], FC2Weights is shaped [Units, Channels].
	FC1Weights, FC1Biases []float32
	FC2Weights, FC2Biases []float32

	// ConvKernel is shaped [KernelSize, KernelSize, 2, 1]: input channel 0 is the average, 1 the max.
	ConvKernel []float32
	ConvBias   float32
}

// lookupVariable finds the variable with the given name under the given sub-scope of the module.
func lookupVariable(byName map[string]*context.Variable, subScope, name string) ([]float32, error) {
	var keys []string
	for key := range byName {
		if strings.HasPrefix(key, subScope+context.ScopeSeparator) && strings.HasSuffix(key, context.ScopeSeparator+name) {
			keys = append(keys, key)
		}
	}
	if len(keys) != 1 {
		sort.Strings(keys)
		return nil, errors.Errorf("expected exactly one variable %q under %q, found %q", name, subScope, keys)
	}
	value, err := byName[keys[0]].Value()
	if err != nil {
		return nil, errors.WithMessagef(err, "reading variable %q", keys[0])
	}
	return ToFloat32(value)
}

// ReferenceFromContext reads the variables of the module with the given index from ctx.
func ReferenceFromContext(ctx *context.Context, index any) (*Reference, error) {
	byName, err := cbam.VariablesByName(ctx, index)
	if err != nil {
		return nil, err
	}
	r := &Reference{}
	if r.FC1Weights, err = lookupVariable(byName, cbam.ChannelFC1Scope, "weights"); err != nil {
		return nil, err
	}
	if r.FC1Biases, err = lookupVariable(byName, cbam.ChannelFC1Scope, "biases"); err != nil {
		return nil, err
	}
	if r.FC2Weights, err = lookupVariable(byName, cbam.ChannelFC2Scope, "weights"); err != nil {
		return nil, err
	}
	if r.FC2Biases, err = lookupVariable(byName, cbam.ChannelFC2Scope, "biases"); err != nil {
		return nil, err
	}
	if r.ConvKernel, err = lookupVariable(byName, cbam.SpatialConvScope, "weights"); err != nil {
		return nil, err
	}
	convBias, err := lookupVariable(byName, cbam.SpatialConvScope, "biases")
	if err != nil {
		return nil, err
	}
	if len(convBias) != 1 {
		return nil, errors.Errorf("spatial attention convolution has %d biases, expected 1", len(convBias))
	}
	r.ConvBias = convBias[0]

	r.Channels = len(r.FC2Biases)
	r.Units = len(r.FC1Biases)
	if len(r.FC1Weights) != r.Channels*r.Units || len(r.FC2Weights) != r.Units*r.Channels {
		return nil, errors.Errorf("dense weights sizes (%d, %d) don't match channels=%d and units=%d",
			len(r.FC1Weights), len(r.FC2Weights), r.Channels, r.Units)
	}
	for r.KernelSize*r.KernelSize*2 < len(r.ConvKernel) {
		r.KernelSize++
	}
	if r.KernelSize*r.KernelSize*2 != len(r.ConvKernel) {
		return nil, errors.Errorf("spatial attention kernel with %d values is not shaped [k, k, 2, 1]", len(r.ConvKernel))
	}
	return r, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Apply runs the module on x, a flat feature map shaped [batch, height, width, Channels].
//
// It returns the output (same shape as x), the channel gates shaped [batch, Channels] and the spatial
// gates shaped [batch, height, width].
func (r *Reference) Apply(x []float32, batch, height, width int) (output, channelGates, spatialGates []float32, err error) {
	channels := r.Channels
	if batch < 0 || height <= 0 || width <= 0 || channels <= 0 {
		err = errors.Errorf("empty feature map: batch=%d, height=%d, width=%d and channels=%d, all but batch must be > 0",
			batch, height, width, channels)
		return
	}
	numPixels := height * width
	if len(x) != batch*numPixels*channels {
		err = errors.Errorf("feature map has %d values, expected batch=%d x height=%d x width=%d x channels=%d",
			len(x), batch, height, width, channels)
		return
	}

	// Channel attention.
	channelGates = make([]float32, batch*channels)
	withChannel := make([]float32, len(x))
	descriptor := make([]float32, channels)
	hidden := make([]float32, r.Units)
	for n := range batch {
		sample := x[n*numPixels*channels : (n+1)*numPixels*channels]
		gates := channelGates[n*channels : (n+1)*channels]
		for pool := range 2 {
			for c := range channels {
				acc := sample[c]
				for p := 1; p < numPixels; p++ {
					v := sample[p*channels+c]
					if pool == 0 {
						acc += v
					} else {
						acc = math32.Max(acc, v)
					}
				}
				if pool == 0 {
					acc /= float32(numPixels)
				}
				descriptor[c] = acc
			}
			for u := range r.Units {
				acc := r.FC1Biases[u]
				for c := range channels {
					acc += descriptor[c] * r.FC1Weights[c*r.Units+u]
				}
				hidden[u] = math32.Max(acc, 0)
			}
			for c := range channels {
				acc := r.FC2Biases[c]
				for u := range r.Units {
					acc += hidden[u] * r.FC2Weights[u*channels+c]
				}
				gates[c] += acc
			}
		}
		for c := range channels {
			gates[c] = sigmoid(gates[c])
		}
		for p := range numPixels {
			for c := range channels {
				idx := n*numPixels*channels + p*channels + c
				withChannel[idx] = x[idx] * gates[c]
			}
		}
	}

	// Spatial attention.
	pooled := make([]float32, batch*numPixels*2)
	for n := range batch {
		for p := range numPixels {
			base := (n*numPixels + p) * channels
			sum, maxV := withChannel[base], withChannel[base]
			for c := 1; c < channels; c++ {
				v := withChannel[base+c]
				sum += v
				maxV = math32.Max(maxV, v)
			}
			pooled[(n*numPixels+p)*2] = sum / float32(channels)
			pooled[(n*numPixels+p)*2+1] = maxV
		}
	}
	k, pad := r.KernelSize, r.KernelSize/2
	spatialGates = make([]float32, batch*numPixels)
	output = make([]float32, len(x))
	for n := range batch {
		for y := range height {
			for xx := range width {
				acc := r.ConvBias
				for ky := range k {
					iy := y + ky - pad
					if iy < 0 || iy >= height {
						continue
					}
					for kx := range k {
						ix := xx + kx - pad
						if ix < 0 || ix >= width {
							continue
						}
						pIdx := (n*numPixels + iy*width + ix) * 2
						kIdx := (ky*k + kx) * 2
						acc += pooled[pIdx]*r.ConvKernel[kIdx] + pooled[pIdx+1]*r.ConvKernel[kIdx+1]
					}
				}
				gate := sigmoid(acc)
				pixel := n*numPixels + y*width + xx
				spatialGates[pixel] = gate
				for c := range channels {
					output[pixel*channels+c] = withChannel[pixel*channels+c] * gate
				}
			}
		}
	}
	return
}
