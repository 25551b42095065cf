// Package encoder implements a stack of transformer encoder layers over a time-major sequence
// `[seqLen, batch, embedDim]`, used to learn temporal dependencies.
//
// The query and key may differ from the value (and from each other), which allows attending with
// one signal (e.g. an interpolated series) while aggregating another.
package encoder

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stdiff/stdiff/ml/layers/norm"
)

const (
	// ParamNumHeads is the context hyperparameter with the default number of attention heads.
	ParamNumHeads = "encoder_num_heads"

	// ParamNumLayers is the context hyperparameter with the default number of stacked encoder layers.
	ParamNumLayers = "encoder_num_layers"

	// ParamFeedForwardDim is the context hyperparameter with the default hidden dimension of the feed-forward
	// sub-layer.
	ParamFeedForwardDim = "encoder_ff_dim"

	// ParamActivation is the context hyperparameter with the default activation of the feed-forward sub-layer.
	// Valid values are "relu" and "gelu".
	ParamActivation = "encoder_activation"

	// ParamDropoutRate is the context hyperparameter with the default dropout rate.
	ParamDropoutRate = "encoder_dropout_rate"
)

// ActivationFromName returns the activation function for the given name. Only "relu" and "gelu" are
// supported by the encoder.
func ActivationFromName(name string) (func(x *Node) *Node, error) {
	switch name {
	case "relu":
		return activations.Relu, nil
	case "gelu":
		return Gelu, nil
	default:
		return nil, errors.Errorf("activation should be relu/gelu, not %q", name)
	}
}

// Gelu is the exact Gaussian Error Linear Unit: `0.5 * x * (1 + erf(x / sqrt(2)))`.
func Gelu(x *Node) *Node {
	cdf := OnePlus(Erf(DivScalar(x, math.Sqrt2)))
	return Mul(MulScalar(x, 0.5), cdf)
}

// layerConfig is copied by value into each layer, so layers never share configuration (or variables).
type layerConfig struct {
	numHeads       int
	feedForwardDim int
	activation     string
	dropoutRate    float64
}

// Builder for a stack of encoder layers. Create it with New, configure it and call Done.
type Builder struct {
	ctx               *context.Context
	query, key, value *Node
	numLayers         int
	finalNorm         bool
	layer             layerConfig
}

// New creates a Builder for an encoder over query, key and value shaped `[seqLen, batch, embedDim]`.
// For self-attention pass the same node for the three.
//
// Defaults are taken from the context hyperparameters (ParamNumHeads, ParamNumLayers,
// ParamFeedForwardDim, ParamActivation, ParamDropoutRate), falling back to 8 heads, 1 layer,
// feed-forward dimension 64, "gelu" and 0.1 dropout.
func New(ctx *context.Context, query, key, value *Node) *Builder {
	return &Builder{
		ctx:       ctx.In("encoder"),
		query:     query,
		key:       key,
		value:     value,
		numLayers: context.GetParamOr(ctx, ParamNumLayers, 1),
		layer: layerConfig{
			numHeads:       context.GetParamOr(ctx, ParamNumHeads, 8),
			feedForwardDim: context.GetParamOr(ctx, ParamFeedForwardDim, 64),
			activation:     context.GetParamOr(ctx, ParamActivation, "gelu"),
			dropoutRate:    context.GetParamOr(ctx, ParamDropoutRate, 0.1),
		},
	}
}

// NumHeads sets the number of attention heads. The embedding dimension must be divisible by it.
func (b *Builder) NumHeads(numHeads int) *Builder {
	b.layer.numHeads = numHeads
	return b
}

// NumLayers sets the number of stacked encoder layers.
func (b *Builder) NumLayers(numLayers int) *Builder {
	b.numLayers = numLayers
	return b
}

// FeedForwardDim sets the hidden dimension of the feed-forward sub-layer.
func (b *Builder) FeedForwardDim(dim int) *Builder {
	b.layer.feedForwardDim = dim
	return b
}

// Activation sets the feed-forward activation by name: "relu" or "gelu".
func (b *Builder) Activation(name string) *Builder {
	b.layer.activation = name
	return b
}

// Dropout sets the dropout rate, used only during training.
func (b *Builder) Dropout(rate float64) *Builder {
	b.layer.dropoutRate = rate
	return b
}

// FinalNorm adds a trailing layer normalization after the last layer. Default is false.
func (b *Builder) FinalNorm(useFinalNorm bool) *Builder {
	b.finalNorm = useFinalNorm
	return b
}

// Done builds the encoder stack and returns its output, shaped like the value.
func (b *Builder) Done() *Node {
	valueShape := b.value.Shape()
	if valueShape.Rank() != 3 {
		Panicf("encoder requires inputs shaped [seqLen, batch, embedDim], got value %s", valueShape)
	}
	for _, n := range []*Node{b.query, b.key} {
		if n.Rank() != 3 || n.Shape().Dimensions[0] != valueShape.Dimensions[0] || n.Shape().Dimensions[1] != valueShape.Dimensions[1] {
			Panicf("encoder shape mismatch: query/key %s incompatible with value %s", n.Shape(), valueShape)
		}
	}
	embedDim := valueShape.Dimensions[2]
	if b.layer.numHeads <= 0 || embedDim%b.layer.numHeads != 0 {
		Panicf("encoder embedding dimension %d is not divisible by the number of heads %d", embedDim, b.layer.numHeads)
	}
	if b.numLayers <= 0 {
		Panicf("encoder requires at least one layer, got %d", b.numLayers)
	}
	if _, err := ActivationFromName(b.layer.activation); err != nil {
		panic(err)
	}
	klog.V(2).Infof("encoder %q: %d layers, %d heads, value %s", b.ctx.Scope(), b.numLayers, b.layer.numHeads, valueShape)

	// Batch-major for the attention layer: [batch, seqLen, embedDim].
	query := TransposeAllDims(b.query, 1, 0, 2)
	key := TransposeAllDims(b.key, 1, 0, 2)
	x := TransposeAllDims(b.value, 1, 0, 2)
	// Every layer attends with the same query and key: only the value flows through the stack.
	for ii := range b.numLayers {
		cfg := b.layer
		x = encoderLayer(b.ctx.In(fmt.Sprintf("layer_%03d", ii)), cfg, query, key, x)
	}
	if b.finalNorm {
		x = norm.LayerNorm(b.ctx.In("final_norm"), x).Done()
	}
	return TransposeAllDims(x, 1, 0, 2)
}

// encoderLayer is a post-norm transformer encoder layer over batch-major inputs.
func encoderLayer(ctx *context.Context, cfg layerConfig, query, key, value *Node) *Node {
	embedDim := value.Shape().Dimensions[2]
	headDim := embedDim / cfg.numHeads
	activation, _ := ActivationFromName(cfg.activation)

	attention := layers.MultiHeadAttention(ctx.In("attention"), query, key, value, cfg.numHeads, headDim).
		SetOutputDim(embedDim).
		Dropout(cfg.dropoutRate).
		Done()
	attention = layers.DropoutStatic(ctx, attention, cfg.dropoutRate)
	x := Add(value, attention)
	x = norm.LayerNorm(ctx.In("norm_1"), x).Done()

	ff := layers.Dense(ctx.In("ff_1"), x, true, cfg.feedForwardDim)
	ff = activation(ff)
	ff = layers.DropoutStatic(ctx, ff, cfg.dropoutRate)
	ff = layers.Dense(ctx.In("ff_2"), ff, true, embedDim)
	ff = layers.DropoutStatic(ctx, ff, cfg.dropoutRate)
	x = Add(x, ff)
	return norm.LayerNorm(ctx.In("norm_2"), x).Done()
}
