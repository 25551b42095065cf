package stdiff

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"

	"github.com/stdiff/stdiff/internal/axes"
	"github.com/stdiff/stdiff/ml/layers/norm"
)

// groupNorm normalizes x `[B, C, K, L]` over cfg.NormGroups channel groups, in its own scope.
func groupNorm(ctx *context.Context, cfg *Config, x *Node) *Node {
	return norm.GroupNorm(ctx, x, cfg.NormGroups).Done()
}

// feedForward is the position-wise C -> 2C -> C network over the channels of x `[B, C, K, L]`.
func feedForward(ctx *context.Context, x *Node) *Node {
	numChannels := axes.Of(x).Channels
	y := axes.ChannelsLast(x)
	y = layers.Dense(ctx.In("ff_1"), y, true, 2*numChannels)
	y = activations.Relu(y)
	y = layers.Dense(ctx.In("ff_2"), y, true, numChannels)
	return axes.ChannelsFirst(y)
}

// checkCrossInput validates the interpolated input itp when cross mode is on.
func checkCrossInput(cfg *Config, x, itp *Node) {
	if !cfg.IsCross {
		return
	}
	if itp == nil {
		Panicf("cross mode requires the interpolated input (itp), got nil")
	}
	if !itp.Shape().Equal(x.Shape()) {
		Panicf("shape mismatch: interpolated input %s, x %s", itp.Shape(), x.Shape())
	}
}
