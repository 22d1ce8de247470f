package attnmaps

import (
	"github.com/gomlx/cbam-gomlx/internal/featuremaps"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// spatialGrid implements plotter.GridXYZ for the spatial gates of one sample.
// Row 0 of the image is drawn at the top.
type spatialGrid struct {
	values        []float32
	height, width int
}

func (g spatialGrid) Dims() (c, r int) { return g.width, g.height }
func (g spatialGrid) X(c int) float64  { return float64(c) }
func (g spatialGrid) Y(r int) float64  { return float64(r) }
func (g spatialGrid) Z(c, r int) float64 {
	return float64(g.values[(g.height-1-r)*g.width+c])
}

// PlotSpatial saves a heat map of the spatial gates of the given sample to filePath. The image format is
// taken from the file extension (e.g. ".png", ".svg").
//
// spatialGates must be shaped [batch, height, width, 1].
func PlotSpatial(spatialGates *tensors.Tensor, sample int, title, filePath string) error {
	dims := spatialGates.Shape().Dimensions
	if len(dims) != 4 || dims[3] != 1 {
		return errors.Errorf("spatial gates must be shaped [batch, height, width, 1], got %s", spatialGates.Shape())
	}
	if sample < 0 || sample >= dims[0] {
		return errors.Errorf("sample %d out of range for spatial gates shaped %s", sample, spatialGates.Shape())
	}
	values, err := featuremaps.ToFloat32(spatialGates)
	if err != nil {
		return errors.WithMessage(err, "reading spatial gates")
	}
	height, width := dims[1], dims[2]
	grid := spatialGrid{
		values: values[sample*height*width : (sample+1)*height*width],
		height: height,
		width:  width,
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	heatMap := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	heatMap.Min, heatMap.Max = 0, 1
	p.Add(heatMap)
	if err := p.Save(4*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save spatial gates heat map to %q", filePath)
	}
	return nil
}
