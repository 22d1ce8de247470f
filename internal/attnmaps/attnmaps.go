// Package attnmaps exports the gates computed by the attention module, for inspection outside of Go:
// as rows of a parquet file, or as a heat map image of the spatial gates of one sample.
package attnmaps

import (
	"io"
	"os"

	"github.com/gomlx/cbam-gomlx/internal/featuremaps"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Stage values of GateRow.
const (
	StageChannel = "channel"
	StageSpatial = "spatial"
)

// GateRow is one gate value. Channel gates have Y and X set to -1, spatial gates have Channel set to -1.
//
// The parquet annotations are described in https://pkg.go.dev/github.com/parquet-go/parquet-go#SchemaOf
type GateRow struct {
	Module  string  `parquet:"module,dict"`
	Stage   string  `parquet:"stage,dict"`
	Sample  int32   `parquet:"sample"`
	Channel int32   `parquet:"channel"`
	Y       int32   `parquet:"y"`
	X       int32   `parquet:"x"`
	Gate    float32 `parquet:"gate"`
}

// Rows converts the gates returned by cbam.Builder.DoneWithGates, after execution, to rows.
//
// channelGates must be shaped [batch, 1, 1, channels] and spatialGates [batch, height, width, 1].
// Either can be nil.
func Rows(module string, channelGates, spatialGates *tensors.Tensor) ([]GateRow, error) {
	var rows []GateRow
	if channelGates != nil {
		dims := channelGates.Shape().Dimensions
		if len(dims) != 4 || dims[1] != 1 || dims[2] != 1 {
			return nil, errors.Errorf("channel gates must be shaped [batch, 1, 1, channels], got %s", channelGates.Shape())
		}
		values, err := featuremaps.ToFloat32(channelGates)
		if err != nil {
			return nil, errors.WithMessage(err, "reading channel gates")
		}
		channels := dims[3]
		for ii, v := range values {
			rows = append(rows, GateRow{
				Module: module, Stage: StageChannel,
				Sample: int32(ii / channels), Channel: int32(ii % channels), Y: -1, X: -1,
				Gate: v,
			})
		}
	}
	if spatialGates != nil {
		dims := spatialGates.Shape().Dimensions
		if len(dims) != 4 || dims[3] != 1 {
			return nil, errors.Errorf("spatial gates must be shaped [batch, height, width, 1], got %s", spatialGates.Shape())
		}
		values, err := featuremaps.ToFloat32(spatialGates)
		if err != nil {
			return nil, errors.WithMessage(err, "reading spatial gates")
		}
		height, width := dims[1], dims[2]
		for ii, v := range values {
			pixel := ii % (height * width)
			rows = append(rows, GateRow{
				Module: module, Stage: StageSpatial,
				Sample: int32(ii / (height * width)), Channel: -1, Y: int32(pixel / width), X: int32(pixel % width),
				Gate: v,
			})
		}
	}
	return rows, nil
}

// WriteParquet writes the rows to a new parquet file in filePath.
func WriteParquet(filePath string, rows []GateRow) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create gates file %q", filePath)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close gates file %q", filePath)
		}
	}()
	writer := parquet.NewGenericWriter[GateRow](f)
	if _, err = writer.Write(rows); err != nil {
		return errors.Wrapf(err, "failed to write %d gates to %q", len(rows), filePath)
	}
	if err = writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to flush gates to %q", filePath)
	}
	return nil
}

// ReadParquet reads all rows of a file written by WriteParquet.
func ReadParquet(filePath string) ([]GateRow, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat gates file %q", filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gates file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse parquet file %q", filePath)
	}
	reader := parquet.NewGenericReader[GateRow](pf, parquet.SchemaOf(&GateRow{}))
	defer func() { _ = reader.Close() }()

	rows := make([]GateRow, 0, reader.NumRows())
	batch := make([]GateRow, 1024)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed reading gates from %q", filePath)
		}
		if n == 0 {
			break
		}
	}
	return rows, nil
}
