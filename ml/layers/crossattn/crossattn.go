// Package crossattn implements multi-head cross attention between two equally shaped sequences:
// one provides the queries, the other the keys and values.
package crossattn

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
)

// ParamNumHeads is the context hyperparameter with the default number of attention heads.
const ParamNumHeads = "crossattn_num_heads"

// Builder for the cross attention. Create it with New, configure it and call Done.
type Builder struct {
	ctx               *context.Context
	query, keyValue   *Node
	numHeads          int
	qkvBias           bool
	attentionDropout  float64
	projectionDropout float64
}

// New creates a cross attention of query over keyValue, both shaped `[batch, seqLen, embedDim]`.
func New(ctx *context.Context, query, keyValue *Node) *Builder {
	return &Builder{
		ctx:      ctx.In("cross_attention"),
		query:    query,
		keyValue: keyValue,
		numHeads: context.GetParamOr(ctx, ParamNumHeads, 8),
	}
}

// NumHeads sets the number of attention heads. Default is 8.
func (b *Builder) NumHeads(numHeads int) *Builder {
	b.numHeads = numHeads
	return b
}

// QKVBias defines whether the query, key and value projections have a bias. Default is false.
func (b *Builder) QKVBias(useBias bool) *Builder {
	b.qkvBias = useBias
	return b
}

// AttentionDropout sets the dropout rate applied to the attention coefficients during training.
func (b *Builder) AttentionDropout(rate float64) *Builder {
	b.attentionDropout = rate
	return b
}

// ProjectionDropout sets the dropout rate applied to the output projection during training.
func (b *Builder) ProjectionDropout(rate float64) *Builder {
	b.projectionDropout = rate
	return b
}

// Done builds the cross attention and returns its output, shaped like the query.
func (b *Builder) Done() *Node {
	ctx := b.ctx
	if !b.query.Shape().Equal(b.keyValue.Shape()) {
		Panicf("cross attention shape mismatch: query %s and key/value %s must have the same shape",
			b.query.Shape(), b.keyValue.Shape())
	}
	if b.query.Rank() != 3 {
		Panicf("cross attention requires inputs shaped [batch, seqLen, embedDim], got %s", b.query.Shape())
	}
	dims := b.query.Shape().Dimensions
	batchSize, seqLen, embedDim := dims[0], dims[1], dims[2]
	if b.numHeads <= 0 || embedDim%b.numHeads != 0 {
		Panicf("cross attention dimension %d is not divisible by the number of heads %d", embedDim, b.numHeads)
	}
	headDim := embedDim / b.numHeads

	q := layers.Dense(ctx.In("query"), b.query, b.qkvBias, b.numHeads, headDim)
	k := layers.Dense(ctx.In("key"), b.keyValue, b.qkvBias, b.numHeads, headDim)
	v := layers.Dense(ctx.In("value"), b.keyValue, b.qkvBias, b.numHeads, headDim)

	logits := Einsum("bqhd,bkhd->bhqk", q, k)
	logits = MulScalar(logits, math.Pow(float64(headDim), -0.5))
	coefficients := Softmax(logits, -1)
	coefficients = layers.DropoutStatic(ctx, coefficients, b.attentionDropout)
	output := Einsum("bhqk,bkhd->bqhd", coefficients, v)
	output = Reshape(output, batchSize, seqLen, embedDim)
	output = layers.Dense(ctx.In("projection"), output, true, embedDim)
	return layers.DropoutStatic(ctx, output, b.projectionDropout)
}
