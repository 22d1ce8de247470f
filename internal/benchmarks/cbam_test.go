package benchmarks

import (
	"flag"
	"fmt"
	"runtime"
	"testing"

	"github.com/gomlx/cbam-gomlx/cbam"
	"github.com/gomlx/cbam-gomlx/internal/featuremaps"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagBenchDuration = flag.Duration("bench_duration", 0, "Benchmark duration, typically use 10 seconds. If left as 0, benchmark tests are disabled")
	flagPrintGraph    = flag.Bool("print_graph", false, "Prints the computation graph")
)

// benchShapes are the feature map shapes benchmarked, all with float32 values.
var benchShapes = []shapes.Shape{
	shapes.Make(dtypes.Float32, 2, 8, 8, 32),
	shapes.Make(dtypes.Float32, 1, 16, 16, 64),
	shapes.Make(dtypes.Float32, 16, 32, 32, 64),
}

func TestBenchCBAM(t *testing.T) {
	if testing.Short() {
		fmt.Printf("Skipping CBAM benchmark test: --short is set\n")
		t.SkipNow()
	}
	if *flagBenchDuration == 0 {
		fmt.Printf("Skipping CBAM benchmark test: --bench_duration is not set\n")
		t.SkipNow()
	}
	t.Run("GoMLX", benchGoMLXCBAM)
	t.Run("PureGo", benchPureGoCBAM)
}

// newCBAMExec returns an executor of the module with index 0, with variables stored in ctx.
// If isDuringBenchmark is set, building a new graph panics.
func newCBAMExec(ctx *context.Context, isDuringBenchmark *bool) *context.Exec {
	backend := graphtest.BuildTestBackend()
	return context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		if isDuringBenchmark != nil && *isDuringBenchmark {
			exceptions.Panicf("Graph building function called during benchmark: this shouldn't happen, as all graphs should have been built in startup")
		}
		output := cbam.ConvolutionalAttention(ctx, x, 0, cbam.DefaultInnerUnitsRatio)
		if *flagPrintGraph {
			fmt.Printf("Graph:\n%s\n", x.Graph())
		}
		return output
	})
}

func benchGoMLXCBAM(t *testing.T) {
	var isDuringBenchmark bool
	for shapeIdx, shape := range benchShapes {
		ctx := context.New()
		exec := newCBAMExec(ctx, &isDuringBenchmark)
		input := must.M1(featuremaps.Random(shape, 42))
		// Warm up: build graph and initialize variables.
		must.M(exec.MustExec1(input).FinalizeAll())
		isDuringBenchmark = true

		benchFn := benchmarks.NamedFunction{
			Name: fmt.Sprintf("%s/%s", t.Name(), shape),
			Func: func() {
				output := exec.MustExec1(input)
				// Force transfer to local memory: this should be part of the cost.
				tensors.MustConstFlatData(output, func(flat []float32) {
					_ = flat[0]
				})
				_ = output.FinalizeAll()
			},
		}
		runtime.LockOSThread()
		benchmarks.New(benchFn).
			WithWarmUps(32).
			WithDuration(*flagBenchDuration).
			WithHeader(shapeIdx == 0).
			Done()
		runtime.UnlockOSThread()
		isDuringBenchmark = false
		exec.Finalize()
		must.M(input.FinalizeAll())
	}
}

func benchPureGoCBAM(t *testing.T) {
	for shapeIdx, shape := range benchShapes {
		// Variables are created by GoMLX, and read into the reference implementation.
		ctx := context.New()
		exec := newCBAMExec(ctx, nil)
		input := must.M1(featuremaps.Random(shape, 42))
		must.M(exec.MustExec1(input).FinalizeAll())
		exec.Finalize()
		ref := must.M1(featuremaps.ReferenceFromContext(ctx, 0))
		values := must.M1(featuremaps.ToFloat32(input))
		dims := shape.Dimensions

		benchFn := benchmarks.NamedFunction{
			Name: fmt.Sprintf("%s/%s", t.Name(), shape),
			Func: func() {
				_, _, _ = must.M3(ref.Apply(values, dims[0], dims[1], dims[2]))
			},
		}
		runtime.LockOSThread()
		benchmarks.New(benchFn).
			WithWarmUps(32).
			WithDuration(*flagBenchDuration).
			WithHeader(shapeIdx == 0).
			Done()
		runtime.UnlockOSThread()
		must.M(input.FinalizeAll())
	}
}

// BenchmarkCBAMExec measures one execution of the module, excluding the transfer of the inputs.
func BenchmarkCBAMExec(b *testing.B) {
	for _, shape := range benchShapes {
		b.Run(shape.String(), func(b *testing.B) {
			ctx := context.New()
			exec := newCBAMExec(ctx, nil)
			defer exec.Finalize()
			input := must.M1(featuremaps.Random(shape, 42))
			must.M(exec.MustExec1(input).FinalizeAll())
			b.ResetTimer()
			for range b.N {
				_ = exec.MustExec1(input).FinalizeAll()
			}
		})
	}
}

// BenchmarkCBAMPureGo measures the reference implementation with the same variables.
func BenchmarkCBAMPureGo(b *testing.B) {
	for _, shape := range benchShapes {
		b.Run(shape.String(), func(b *testing.B) {
			ctx := context.New()
			exec := newCBAMExec(ctx, nil)
			input := must.M1(featuremaps.Random(shape, 42))
			must.M(exec.MustExec1(input).FinalizeAll())
			exec.Finalize()
			ref := must.M1(featuremaps.ReferenceFromContext(ctx, 0))
			values := must.M1(featuremaps.ToFloat32(input))
			dims := shape.Dimensions
			b.ResetTimer()
			for range b.N {
				_, _, _ = must.M3(ref.Apply(values, dims[0], dims[1], dims[2]))
			}
		})
	}
}
