package dct

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"

	"github.com/stdiff/stdiff/ml/layers/norm"
)

// ParamGateDropoutRate is the context hyperparameter with the default dropout rate inside the gate's
// bottleneck. The default is 0.1.
const ParamGateDropoutRate = "dct_gate_dropout_rate"

// GateBuilder for the frequency channel gate. Create it with ChannelGate, configure it and call Done.
type GateBuilder struct {
	ctx               *context.Context
	x                 *Node
	dropoutRate       float64
	epsilon           float64
	gateNormalization bool
}

// ChannelGate re-weights the features of x shaped `[batch, seqLen, features]` with a gate computed from
// the DCT of each feature row: a bottleneck (features -> 2*features -> features) over the DCT
// coefficients, followed by a sigmoid and a layer normalization.
//
// Based on "FcaNet: Frequency Channel Attention Networks" (Qin et al.), https://arxiv.org/abs/2012.11879
func ChannelGate(ctx *context.Context, x *Node) *GateBuilder {
	return &GateBuilder{
		ctx:               ctx.In("dct_gate"),
		x:                 x,
		dropoutRate:       context.GetParamOr(ctx, ParamGateDropoutRate, 0.1),
		epsilon:           1e-6,
		gateNormalization: true,
	}
}

// Dropout sets the dropout rate used in the bottleneck during training.
func (b *GateBuilder) Dropout(rate float64) *GateBuilder {
	b.dropoutRate = rate
	return b
}

// Epsilon of the layer normalization.
func (b *GateBuilder) Epsilon(epsilon float64) *GateBuilder {
	b.epsilon = epsilon
	return b
}

// GateNormalization defines whether the sigmoid gate is layer-normalized before being applied. Default
// is true. When disabled the gate is strictly in (0, 1).
func (b *GateBuilder) GateNormalization(value bool) *GateBuilder {
	b.gateNormalization = value
	return b
}

// Done returns x multiplied element-wise by the gate.
func (b *GateBuilder) Done() *Node {
	output, _ := b.DoneWithGate()
	return output
}

// DoneWithGate returns x multiplied element-wise by the gate, and the gate itself.
func (b *GateBuilder) DoneWithGate() (output, gate *Node) {
	ctx := b.ctx
	x := b.x
	if x.Rank() != 3 {
		Panicf("ChannelGate requires x shaped [batch, seqLen, features], got %s", x.Shape())
	}
	numFeatures := x.Shape().Dimensions[2]
	descriptor := DCT(x)

	// The same normalization variables serve both invocations. The normalized descriptor itself is not
	// used by the gate.
	normCtx := ctx.In("dct_norm")
	_ = norm.LayerNorm(normCtx, descriptor).Epsilon(b.epsilon).Done()

	gate = layers.Dense(ctx.In("fc_1"), descriptor, false, 2*numFeatures)
	gate = layers.DropoutStatic(ctx, gate, b.dropoutRate)
	gate = activations.Relu(gate)
	gate = layers.Dense(ctx.In("fc_2"), gate, false, numFeatures)
	gate = Sigmoid(gate)
	if b.gateNormalization {
		gate = norm.LayerNorm(normCtx.Reuse(), gate).Epsilon(b.epsilon).Done()
	}
	return Mul(x, gate), gate
}
