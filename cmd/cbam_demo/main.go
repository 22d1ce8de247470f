// cbam_demo builds one attention module, runs it on a random feature map and prints the output shape.
//
// Optionally it saves the computed gates to a parquet file, the spatial gates of the first sample as a
// heat map, and prints the table of learned variables.
//
// Example:
//
//	go run ./cmd/cbam_demo -channels=64 -params -set="cbam_inner_units_ratio=0.25"
//
// With the XLA backend, half precision feature maps can be used:
//
//	GOMLX_BACKEND=xla go run ./cmd/cbam_demo -dtype=float16
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/cbam-gomlx/cbam"
	"github.com/gomlx/cbam-gomlx/internal/attnmaps"
	"github.com/gomlx/cbam-gomlx/internal/featuremaps"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/olekukonko/tablewriter"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

const dtypeUsage = "DType of the feature map: float16, bfloat16, float32 or float64. " +
	"float16 requires the XLA backend (GOMLX_BACKEND=xla), the pure Go backend doesn't support it."

var (
	flagBatch    = flag.Int("batch", 2, "Batch size of the random feature map.")
	flagHeight   = flag.Int("height", 8, "Height of the random feature map.")
	flagWidth    = flag.Int("width", 8, "Width of the random feature map.")
	flagChannels = flag.Int("channels", 32, "Number of channels of the random feature map.")
	flagIndex    = flag.String("index", "1", "Index of the module: its variables are stored under the scope \"cbam_<index>\".")
	flagDType    = flag.String("dtype", "float32", dtypeUsage)
	flagSeed     = flag.Uint64("seed", 42, "Seed used to generate the random feature map.")

	flagGatesParquet = flag.String("gates_parquet", "", "If set, save the channel and spatial gates to this parquet file.")
	flagSpatialPlot  = flag.String("spatial_png", "", "If set, save a heat map of the spatial gates of the first sample to this file.")
	flagParams       = flag.Bool("params", false, "Print the learned variables of the module.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		cbam.ParamInnerUnitsRatio:   cbam.DefaultInnerUnitsRatio,
		cbam.ParamSpatialKernelSize: cbam.DefaultSpatialKernelSize,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if len(paramsSet) > 0 {
		fmt.Printf("Modified settings:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	err := exceptions.TryCatch[error](func() { run(ctx) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(ctx *context.Context) {
	dtype := must.M1(featuremaps.ParseDType(*flagDType))
	inputShape := shapes.Make(dtype, *flagBatch, *flagHeight, *flagWidth, *flagChannels)
	featureMap := must.M1(featuremaps.Random(inputShape, *flagSeed))
	defer func() { _ = featureMap.FinalizeAll() }()

	backend := backends.MustNew()
	klog.V(1).Infof("Backend: %s", backend.Description())
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		b := cbam.New(ctx, x).Index(*flagIndex)
		klog.V(1).Infof("%s", b)
		output, channelGates, spatialGates := b.DoneWithGates()
		return []*Node{output, channelGates, spatialGates}
	})
	defer exec.Finalize()
	output, channelGates, spatialGates := exec.MustExec3(featureMap)
	fmt.Printf("Input shape:  %s\n", featureMap.Shape())
	fmt.Printf("Output shape: %s\n", output.Shape())

	if *flagGatesParquet != "" {
		rows := must.M1(attnmaps.Rows(cbam.ScopeName(*flagIndex), channelGates, spatialGates))
		must.M(attnmaps.WriteParquet(*flagGatesParquet, rows))
		klog.Infof("Saved %s gates to %q", humanize.Comma(int64(len(rows))), *flagGatesParquet)
	}
	if *flagSpatialPlot != "" {
		title := fmt.Sprintf("%s spatial gates, sample 0", cbam.ScopeName(*flagIndex))
		must.M(attnmaps.PlotSpatial(spatialGates, 0, title, *flagSpatialPlot))
		klog.Infof("Saved spatial gates heat map to %q", *flagSpatialPlot)
	}
	if *flagParams {
		printVariables(ctx, *flagIndex)
	}
	for _, t := range []*tensors.Tensor{output, channelGates, spatialGates} {
		must.M(t.FinalizeAll())
	}
}

// printVariables prints a table with the variables of the module.
func printVariables(ctx *context.Context, index any) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Variable", "Shape", "# Parameters", "Memory"})
	var total int
	for _, v := range cbam.Variables(ctx, index) {
		size := v.Shape().Size()
		total += size
		table.Append([]string{
			v.ScopeAndName(),
			v.Shape().String(),
			humanize.Comma(int64(size)),
			humanize.Bytes(uint64(size * v.Shape().DType.Size())),
		})
	}
	table.SetFooter([]string{"Total", "", humanize.Comma(int64(total)), ""})
	table.Render()
}
