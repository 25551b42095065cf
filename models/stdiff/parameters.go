package stdiff

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"

	"github.com/stdiff/stdiff/ml/layers/encoder"
	"github.com/stdiff/stdiff/ml/layers/gcn"
	"github.com/stdiff/stdiff/ml/layers/norm"
	"github.com/stdiff/stdiff/ml/layers/tcn"
)

// Hyperparameters keys, set in the context. See CreateDefaultContext for their defaults.
const (
	// ParamDType is the dtype of the model variables, e.g. "float32".
	ParamDType = "dtype"

	// ParamChannels is the number of channels (features) of the blocks.
	ParamChannels = "channels"

	// ParamNumHeads is the number of attention heads of every attention layer.
	ParamNumHeads = "num_heads"

	// ParamNumNodes is the number of nodes (variables) of the series, the sequence length of the
	// projected spatial attention.
	ParamNumNodes = "num_nodes"

	// ParamProjectionDim is the number of inducing points of the projected spatial attention.
	ParamProjectionDim = "projection_dim"

	// ParamOrder is the number of diffusion hops of the graph convolution.
	ParamOrder = gcn.ParamOrder

	// ParamIncludeSelf defines whether the graph convolution mixes the un-diffused input.
	ParamIncludeSelf = gcn.ParamIncludeSelf

	// ParamAdaptive defines whether the graph convolution also diffuses over a learned adjacency.
	ParamAdaptive = "gcn_adaptive"

	// ParamAdaptiveRank is the rank of the learned adjacency factors.
	ParamAdaptiveRank = "gcn_adaptive_rank"

	// ParamIsCross defines whether the reasoning blocks attend with the interpolated series as queries.
	ParamIsCross = "is_cross"

	// ParamDropoutRate is the dropout rate of the attention layers.
	ParamDropoutRate = "dropout_rate"

	// ParamNormGroups is the number of channel groups of the group normalizations.
	ParamNormGroups = norm.ParamGroups

	// ParamTemporalLayers is the number of stacked temporal encoder layers.
	ParamTemporalLayers = encoder.ParamNumLayers

	// ParamTemporalFeedForwardDim is the hidden dimension of the temporal encoder feed-forward.
	ParamTemporalFeedForwardDim = encoder.ParamFeedForwardDim

	// ParamTemporalActivation is the activation of the temporal encoder feed-forward: "gelu" or "relu".
	ParamTemporalActivation = encoder.ParamActivation

	// ParamTCNKernelSize is the temporal kernel size of the temporal convolution.
	ParamTCNKernelSize = tcn.ParamKernelSize

	// ParamTCNDilation is the temporal dilation of the temporal convolution.
	ParamTCNDilation = tcn.ParamDilation

	// ParamNumSteps is the number of diffusion steps.
	ParamNumSteps = "diffusion_num_steps"

	// ParamStepEmbeddingDim is the dimension of the fixed sinusoidal diffusion step table.
	ParamStepEmbeddingDim = "diffusion_embedding_dim"

	// ParamStepProjectionDim is the output dimension of the step embedding projections.
	// If 0, it defaults to the embedding dimension.
	ParamStepProjectionDim = "diffusion_projection_dim"

	// ParamNanLogger enables tracing of NaN values in the intermediary results of the blocks.
	ParamNanLogger = "nan_logger"
)

// CreateDefaultContext returns a context with the default hyperparameters set.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamDType:    "float32",
		ParamChannels: 64,
		ParamNumHeads: 8,

		// Spatial dependencies.
		ParamNumNodes:      36,
		ParamProjectionDim: 16,
		ParamOrder:         2,
		ParamIncludeSelf:   true,
		ParamAdaptive:      true,
		ParamAdaptiveRank:  10,
		ParamIsCross:       true,

		ParamDropoutRate: 0.1,
		ParamNormGroups:  4,

		// Temporal dependencies.
		ParamTemporalLayers:         1,
		ParamTemporalFeedForwardDim: 64,
		ParamTemporalActivation:     "gelu",
		ParamTCNKernelSize:          3,
		ParamTCNDilation:            1,

		// Diffusion steps.
		ParamNumSteps:          50,
		ParamStepEmbeddingDim:  128,
		ParamStepProjectionDim: 0,

		ParamNanLogger: false,

		initializers.ParamInitialSeed: int64(0),
	})
	return ctx
}
