package stdiff

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"

	"github.com/stdiff/stdiff/internal/axes"
	"github.com/stdiff/stdiff/ml/layers/gcn"
	"github.com/stdiff/stdiff/ml/layers/linformer"
)

// SpatialReasoningBlock learns the dependencies among nodes of x `[B, C, K, L]` with two branches:
// a graph convolution over the supports (local) and a projected attention over the nodes of each
// time step (global). In cross mode the attention queries and keys come from itp, the interpolated
// series, shaped like x.
//
// Each branch is added to x and group-normalized, and their sum goes through a feed-forward network
// with a residual connection and a final group normalization.
//
// With a single node (K == 1) x is returned unchanged.
func SpatialReasoningBlock(ctx *context.Context, cfg *Config, x *Node, supports gcn.Supports, itp *Node) *Node {
	ctx = ctx.In("spatial")
	d := axes.Of(x)
	if d.Nodes == 1 {
		klog.V(2).Infof("%s: single node, passthrough", ctx.Scope())
		return x
	}
	checkCrossInput(cfg, x, itp)
	klog.V(1).Infof("%s: x=%s, cross=%v, adaptive=%v", ctx.Scope(), x.Shape(), cfg.IsCross, supports.IsAdaptive())
	nanLogger := cfg.NanLogger
	nanLogger.PushScope(ctx.Scope())
	defer nanLogger.PopScope()

	local := gcn.New(ctx, x, supports).Order(cfg.Order).IncludeSelf(cfg.IncludeSelf).Done()
	local = groupNorm(ctx.In("norm_local"), cfg, Add(x, local))
	nanLogger.TraceFirstNaN(local, "local")

	attention := linformer.New(ctx, axes.NodesAsSequence(x), cfg.NumNodes, cfg.ProjectionDim).NumHeads(cfg.NumHeads)
	if cfg.IsCross {
		attention.CrossInput(axes.NodesAsSequence(itp))
	}
	global := axes.FromNodesSequence(attention.Done(), d)
	global = groupNorm(ctx.In("norm_attention"), cfg, Add(x, global))
	nanLogger.TraceFirstNaN(global, "attention")

	y := Add(local, global)
	y = Add(feedForward(ctx, y), y)
	y = groupNorm(ctx.In("norm_output"), cfg, y)
	nanLogger.TraceFirstNaN(y, "output")
	return y
}
