package cbam

import (
	"bytes"
	"fmt"
)

// String implements fmt.Stringer, and pretty prints the module configuration.
func (b *Builder) String() string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("CBAM module:\n")
	w("\tScope:\t%s\n", b.Scope())
	if b.x != nil {
		w("\tFeature map:\t%s\n", b.x.Shape())
		if len(b.deferredAxes) > 0 {
			w("\tDeferred axes:\t%v\n", b.deferredAxes)
		}
		if b.x.Rank() == 4 && b.x.Shape().Dimensions[3] > 0 {
			channels := b.x.Shape().Dimensions[3]
			units := BottleneckUnits(channels, b.innerUnitsRatio)
			w("\tChannel attention:\t%d -> %d (relu) -> %d, ratio=%g\n", channels, units, channels, b.innerUnitsRatio)
			w("\tSpatial attention:\t%dx%d convolution, 2 -> 1 channels\n", b.spatialKernelSize, b.spatialKernelSize)
			w("\t# parameters:\t%d\n", ExpectedNumParameters(channels, b.innerUnitsRatio, b.spatialKernelSize))
			return buf.String()
		}
	}
	w("\tInner units ratio:\t%g\n", b.innerUnitsRatio)
	w("\tSpatial kernel:\t%dx%d\n", b.spatialKernelSize, b.spatialKernelSize)
	return buf.String()
}
