package attnmaps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

func testGates() (channelGates, spatialGates *tensors.Tensor) {
	// batch=2, height=2, width=3, channels=4.
	channelGates = tensors.FromFlatDataAndDimensions([]float32{
		0.1, 0.2, 0.3, 0.4,
		0.5, 0.6, 0.7, 0.8,
	}, 2, 1, 1, 4)
	spatialGates = tensors.FromFlatDataAndDimensions([]float32{
		0.01, 0.02, 0.03,
		0.04, 0.05, 0.06,

		0.11, 0.12, 0.13,
		0.14, 0.15, 0.16,
	}, 2, 2, 3, 1)
	return
}

func TestRows(t *testing.T) {
	channelGates, spatialGates := testGates()
	rows, err := Rows("cbam_1", channelGates, spatialGates)
	require.NoError(t, err)
	require.Len(t, rows, 8+12)

	require.Equal(t, GateRow{Module: "cbam_1", Stage: StageChannel, Sample: 1, Channel: 2, Y: -1, X: -1, Gate: 0.7}, rows[6])
	require.Equal(t, GateRow{Module: "cbam_1", Stage: StageSpatial, Sample: 1, Channel: -1, Y: 1, X: 0, Gate: 0.14}, rows[8+9])

	rows, err = Rows("cbam_1", nil, spatialGates)
	require.NoError(t, err)
	require.Len(t, rows, 12)

	// Gates swapped: shapes don't match.
	_, err = Rows("cbam_1", spatialGates, channelGates)
	require.Error(t, err)
}

func TestParquet(t *testing.T) {
	channelGates, spatialGates := testGates()
	rows, err := Rows("cbam_encoder", channelGates, spatialGates)
	require.NoError(t, err)

	filePath := filepath.Join(t.TempDir(), "gates.parquet")
	require.NoError(t, WriteParquet(filePath, rows))
	got, err := ReadParquet(filePath)
	require.NoError(t, err)
	require.Equal(t, rows, got)

	_, err = ReadParquet(filepath.Join(t.TempDir(), "missing.parquet"))
	require.Error(t, err)
}

func TestPlotSpatial(t *testing.T) {
	channelGates, spatialGates := testGates()
	filePath := filepath.Join(t.TempDir(), "spatial.png")
	require.NoError(t, PlotSpatial(spatialGates, 1, "cbam_1 sample 1", filePath))
	info, err := os.Stat(filePath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	require.Error(t, PlotSpatial(spatialGates, 2, "out of range", filePath))
	require.Error(t, PlotSpatial(channelGates, 0, "wrong shape", filePath))
}
