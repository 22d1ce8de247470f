package featuremaps

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	for name, want := range DTypes {
		got, err := ParseDType(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseDType("int32")
	require.Error(t, err)
}

func TestRandom(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.Float16, dtypes.BFloat16} {
		shape := shapes.Make(dtype, 2, 3, 4, 5)
		first, err := Random(shape, 42)
		require.NoError(t, err)
		require.True(t, first.Shape().Equal(shape), "%s", first.Shape())
		firstValues, err := ToFloat32(first)
		require.NoError(t, err)
		require.Len(t, firstValues, shape.Size())
		for _, v := range firstValues {
			require.GreaterOrEqual(t, v, float32(0))
			require.LessOrEqual(t, v, float32(1)) // Rounding of float16 and bfloat16 may reach 1.
		}

		// Same seed, same values.
		second, err := Random(shape, 42)
		require.NoError(t, err)
		secondValues, err := ToFloat32(second)
		require.NoError(t, err)
		require.Equal(t, firstValues, secondValues, "dtype=%s", dtype)

		// Different seed, different values.
		third, err := Random(shape, 43)
		require.NoError(t, err)
		thirdValues, err := ToFloat32(third)
		require.NoError(t, err)
		assert.NotEqual(t, firstValues, thirdValues, "dtype=%s", dtype)

		for _, tensor := range []*tensors.Tensor{first, second, third} {
			require.NoError(t, tensor.FinalizeAll())
		}
	}

	_, err := Random(shapes.Make(dtypes.Int32, 2, 2), 1)
	require.Error(t, err)
}

func TestToFloat32(t *testing.T) {
	values, err := ToFloat32(tensors.FromValue([][]float64{{1, 2}, {3, 4.5}}))
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4.5}, values)

	_, err = ToFloat32(tensors.FromValue([]int32{1, 2}))
	require.Error(t, err)
	_, err = ToFloat32(nil)
	require.Error(t, err)
}
