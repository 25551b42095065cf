package stdiff

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"

	"github.com/stdiff/stdiff/internal/axes"
	"github.com/stdiff/stdiff/ml/layers/encoder"
	"github.com/stdiff/stdiff/ml/layers/tcn"
)

// TemporalReasoningBlock learns the dependencies along time of x `[B, C, K, L]` with two branches: a
// causal temporal convolution (local) and a transformer encoder over the steps of each node (global).
// In cross mode the encoder queries and keys come from itp, the interpolated series, shaped like x.
//
// Each branch is added to x and group-normalized, and their sum goes through a feed-forward network
// with a residual connection and a final group normalization.
//
// With a single time step (L == 1) x is returned unchanged.
func TemporalReasoningBlock(ctx *context.Context, cfg *Config, x *Node, itp *Node) *Node {
	ctx = ctx.In("temporal")
	if axes.Of(x).Steps == 1 {
		klog.V(2).Infof("%s: single time step, passthrough", ctx.Scope())
		return x
	}
	checkCrossInput(cfg, x, itp)
	klog.V(1).Infof("%s: x=%s, cross=%v", ctx.Scope(), x.Shape(), cfg.IsCross)
	nanLogger := cfg.NanLogger
	nanLogger.PushScope(ctx.Scope())
	defer nanLogger.PopScope()

	local := tcn.New(ctx, x).KernelSize(cfg.TCNKernelSize).Dilation(cfg.TCNDilation).Done()
	local = groupNorm(ctx.In("norm_local"), cfg, Add(x, local))
	nanLogger.TraceFirstNaN(local, "local")

	global := temporalAttention(ctx, cfg, x, itp)
	global = groupNorm(ctx.In("norm_attention"), cfg, Add(x, global))
	nanLogger.TraceFirstNaN(global, "attention")

	y := Add(local, global)
	y = Add(feedForward(ctx, y), y)
	y = groupNorm(ctx.In("norm_output"), cfg, y)
	nanLogger.TraceFirstNaN(y, "output")
	return y
}

// TemporalLearning applies only the transformer encoder over the time steps of each node of x
// `[B, C, K, L]`, without residual or normalization. In cross mode the queries and keys come from itp.
//
// With a single time step (L == 1) x is returned unchanged.
func TemporalLearning(ctx *context.Context, cfg *Config, x *Node, itp *Node) *Node {
	ctx = ctx.In("temporal_learning")
	if axes.Of(x).Steps == 1 {
		klog.V(2).Infof("%s: single time step, passthrough", ctx.Scope())
		return x
	}
	checkCrossInput(cfg, x, itp)
	y := temporalAttention(ctx, cfg, x, itp)
	cfg.NanLogger.TraceFirstNaN(y, ctx.Scope())
	return y
}

// temporalAttention runs the encoder over the time-major view of x, returning the result as `[B, C, K, L]`.
func temporalAttention(ctx *context.Context, cfg *Config, x, itp *Node) *Node {
	d := axes.Of(x)
	value := axes.TimeAsSequence(x)
	query := value
	if cfg.IsCross {
		query = axes.TimeAsSequence(itp)
	}
	output := encoder.New(ctx, query, query, value).
		NumHeads(cfg.NumHeads).
		NumLayers(cfg.TemporalLayers).
		FeedForwardDim(cfg.TemporalFeedForwardDim).
		Activation(cfg.TemporalActivation).
		Dropout(cfg.DropoutRate).
		Done()
	return axes.FromTimeSequence(output, d)
}
