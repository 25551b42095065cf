package stdiff

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"

	"github.com/stdiff/stdiff/internal/axes"
	"github.com/stdiff/stdiff/ml/layers/crossattn"
	"github.com/stdiff/stdiff/ml/layers/dct"
	"github.com/stdiff/stdiff/ml/layers/gcn"
	"github.com/stdiff/stdiff/ml/layers/tcn"
)

// GuidanceFusionBlock builds the guidance features of x `[B, C, K, L]` by fusing two views of it:
//
//   - local: temporal convolution followed by the graph convolution over the supports, with a
//     residual to x. One group normalization (same variables) is applied after each of the three steps.
//   - frequency: x gated by its DCT coefficients (see dct.ChannelGate), with a residual to x.
//
// The local view attends over the frequency view (cross attention over the K*L positions of each
// example), followed by a feed-forward network with a residual connection and a group normalization.
// Attention never mixes examples of the batch: a layout of `[K*L, B, C]` fed to a batch-first
// attention would attend across the batch axis instead.
//
// The frequency gate runs over the row-major `[B, K*L, C]` reinterpretation of x's memory, not over a
// transposition of the channels.
func GuidanceFusionBlock(ctx *context.Context, cfg *Config, x *Node, supports gcn.Supports) *Node {
	ctx = ctx.In("guidance")
	d := axes.Of(x)
	klog.V(1).Infof("%s: x=%s", ctx.Scope(), x.Shape())
	nanLogger := cfg.NanLogger
	nanLogger.PushScope(ctx.Scope())
	defer nanLogger.PopScope()

	localNormCtx := ctx.In("norm_local")
	local := tcn.New(ctx, x).KernelSize(cfg.TCNKernelSize).Dilation(cfg.TCNDilation).Done()
	local = groupNorm(localNormCtx, cfg, local)
	local = gcn.New(ctx, local, supports).Order(cfg.Order).IncludeSelf(cfg.IncludeSelf).Done()
	local = groupNorm(localNormCtx.Reuse(), cfg, local)
	local = groupNorm(localNormCtx.Reuse(), cfg, Add(x, local))
	nanLogger.TraceFirstNaN(local, "local")

	frequency := Reshape(x, d.Batch, d.Nodes*d.Steps, d.Channels)
	frequency = dct.ChannelGate(ctx, frequency).Done()
	frequency = Reshape(frequency, d.Batch, d.Channels, d.Nodes, d.Steps)
	frequency = groupNorm(ctx.In("norm_frequency"), cfg, Add(x, frequency))
	nanLogger.TraceFirstNaN(frequency, "frequency")

	// Positions (node, step) as the sequence axis: [B, K*L, C].
	query := Reshape(axes.ChannelsLast(local), d.Batch, d.Nodes*d.Steps, d.Channels)
	keyValue := Reshape(axes.ChannelsLast(frequency), d.Batch, d.Nodes*d.Steps, d.Channels)
	fused := crossattn.New(ctx, query, keyValue).NumHeads(cfg.NumHeads).Done()
	fused = axes.ChannelsFirst(Reshape(fused, d.Batch, d.Nodes, d.Steps, d.Channels))
	nanLogger.TraceFirstNaN(fused, "fused")

	y := Add(feedForward(ctx, fused), fused)
	y = groupNorm(ctx.In("norm_output"), cfg, y)
	nanLogger.TraceFirstNaN(y, "output")
	return y
}
