package stdiff

import (
	"math"
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// StepEmbeddingTable returns the fixed sinusoidal table of the diffusion steps, shaped
// `[numSteps, dim]`. With h = dim/2 and frequencies f_i = 10^(4*i/(h-1)), the row of step s is
// `[sin(s*f_0), ..., sin(s*f_{h-1}), cos(s*f_0), ..., cos(s*f_{h-1})]`.
//
// If h == 1 the single frequency is 1.
func StepEmbeddingTable(numSteps, dim int) [][]float64 {
	half := dim / 2
	frequencies := make([]float64, half)
	for ii := range half {
		if half == 1 {
			frequencies[ii] = 1
			continue
		}
		frequencies[ii] = math.Pow(10, 4*float64(ii)/float64(half-1))
	}
	table := make([][]float64, numSteps)
	for step := range numSteps {
		row := make([]float64, 2*half)
		for ii, f := range frequencies {
			row[ii] = math.Sin(float64(step) * f)
			row[half+ii] = math.Cos(float64(step) * f)
		}
		table[step] = row
	}
	return table
}

// DiffusionStepEmbedding looks up the diffusion steps (an integer scalar or tensor of any shape) in
// the fixed sinusoidal table and projects them with two dense layers with SiLU activations.
//
// It returns the embeddings shaped `steps.Shape() + [cfg.StepProjectionDim]`.
func DiffusionStepEmbedding(ctx *context.Context, cfg *Config, steps *Node) *Node {
	ctx = ctx.In("step_embedding")
	if steps.DType().IsFloat() {
		Panicf("diffusion steps must be integers, got %s", steps.Shape())
	}
	g := steps.Graph()
	klog.V(1).Infof("%s: %d steps, embedding %d -> %d", ctx.Scope(), cfg.NumSteps, cfg.StepEmbeddingDim, cfg.StepProjectionDim)

	// Embeddings are computed over the flat list of steps and reshaped back at the end.
	outputDims := append(slices.Clone(steps.Shape().Dimensions), cfg.StepProjectionDim)
	flat := Reshape(steps, steps.Shape().Size())

	table := ConvertDType(Const(g, StepEmbeddingTable(cfg.NumSteps, cfg.StepEmbeddingDim)), cfg.DType)
	indices := InsertAxes(ConvertDType(flat, dtypes.Int32), -1)
	x := Gather(table, indices) // [numSteps, embeddingDim]
	cfg.NanLogger.TraceFirstNaN(x, "step_embedding:table")
	x = layers.Dense(ctx.In("projection_1"), x, true, cfg.StepProjectionDim)
	x = activations.Swish(x)
	x = layers.Dense(ctx.In("projection_2"), x, true, cfg.StepProjectionDim)
	x = activations.Swish(x)
	cfg.NanLogger.TraceFirstNaN(x, "step_embedding:projection")
	return Reshape(x, outputDims...)
}
