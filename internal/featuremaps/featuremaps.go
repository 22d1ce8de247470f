// Package featuremaps creates and reads feature map tensors on the host, for any of the float dtypes
// supported by the attention module.
package featuremaps

import (
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DTypes lists the dtypes supported by Random and ToFloat32, indexed by their names.
var DTypes = map[string]dtypes.DType{
	"float16":  dtypes.Float16,
	"bfloat16": dtypes.BFloat16,
	"float32":  dtypes.Float32,
	"float64":  dtypes.Float64,
}

// ParseDType converts a dtype name (e.g. "float16") to a supported dtypes.DType.
func ParseDType(name string) (dtypes.DType, error) {
	dtype, found := DTypes[name]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unsupported feature map dtype %q, valid values are float16, bfloat16, float32 and float64", name)
	}
	return dtype, nil
}

// fillRandom implements Random for one dtype: values are sampled as float32 and converted.
func fillRandom[T dtypes.Supported](t *tensors.Tensor, r *rand.Rand, convert func(v float32) T) error {
	return tensors.MutableFlatData[T](t, func(flat []T) {
		for ii := range flat {
			flat[ii] = convert(r.Float32())
		}
	})
}

// Random returns a tensor with the given shape, with values sampled uniformly from [0, 1) by a PCG
// generator seeded with seed. The same seed and shape always yield the same values.
func Random(shape shapes.Shape, seed uint64) (*tensors.Tensor, error) {
	r := rand.New(rand.NewPCG(seed, 0))
	t := tensors.FromShape(shape)
	var err error
	switch shape.DType {
	case dtypes.Float32:
		err = fillRandom(t, r, func(v float32) float32 { return v })
	case dtypes.Float64:
		err = fillRandom(t, r, func(v float32) float64 { return float64(v) })
	case dtypes.Float16:
		err = fillRandom(t, r, float16.Fromfloat32)
	case dtypes.BFloat16:
		err = fillRandom(t, r, bfloat16.FromFloat32)
	default:
		err = errors.Errorf("dtype %s not supported for feature maps", shape.DType)
	}
	if err != nil {
		_ = t.FinalizeAll()
		return nil, errors.WithMessagef(err, "featuremaps.Random(%s)", shape)
	}
	return t, nil
}

// copyToFloat32 implements ToFloat32 for one dtype.
func copyToFloat32[T dtypes.Supported](t *tensors.Tensor, convert func(v T) float32) (values []float32, err error) {
	err = tensors.ConstFlatData[T](t, func(flat []T) {
		values = make([]float32, len(flat))
		for ii, v := range flat {
			values[ii] = convert(v)
		}
	})
	return
}

// ToFloat32 returns a copy of the flat values of t converted to float32.
func ToFloat32(t *tensors.Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("featuremaps.ToFloat32: tensor is nil")
	}
	var values []float32
	var err error
	switch t.DType() {
	case dtypes.Float32:
		values, err = copyToFloat32(t, func(v float32) float32 { return v })
	case dtypes.Float64:
		values, err = copyToFloat32(t, func(v float64) float32 { return float32(v) })
	case dtypes.Float16:
		values, err = copyToFloat32(t, func(v float16.Float16) float32 { return v.Float32() })
	case dtypes.BFloat16:
		values, err = copyToFloat32(t, func(v bfloat16.BFloat16) float32 { return v.Float32() })
	default:
		err = errors.Errorf("dtype %s not supported", t.DType())
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "featuremaps.ToFloat32(%s)", t.Shape())
	}
	return values, nil
}
