// Package linformer implements multi-head attention whose keys and values are projected along the
// sequence axis onto a fixed number of learned "inducing points", making the cost linear in the
// sequence length.
//
// Based on "Linformer: Self-Attention with Linear Complexity" (Wang et al.), https://arxiv.org/abs/2006.04768
package linformer

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"k8s.io/klog/v2"
)

const (
	// ParamNumHeads is the context hyperparameter with the default number of attention heads.
	ParamNumHeads = "linformer_num_heads"

	// ParamDropoutRate is the context hyperparameter with the default dropout rate applied to the
	// attention coefficients.
	ParamDropoutRate = "linformer_dropout_rate"
)

// Builder for a projected attention layer. Create it with New, configure it and call Done.
type Builder struct {
	ctx         *context.Context
	x, cross    *Node
	seqLen, k   int
	numHeads    int
	headDim     int
	oneKVHead   bool
	shareKV     bool
	dropoutRate float64
}

// New creates a projected attention over x shaped `[batch, seqLen, embedDim]`.
//
// The sequence length is fixed at construction (seqLen), since the learned projections are shaped
// `[seqLen, k]`, where k is the number of inducing points.
func New(ctx *context.Context, x *Node, seqLen, k int) *Builder {
	return &Builder{
		ctx:         ctx.In("linformer"),
		x:           x,
		seqLen:      seqLen,
		k:           k,
		numHeads:    context.GetParamOr(ctx, ParamNumHeads, 8),
		dropoutRate: context.GetParamOr(ctx, ParamDropoutRate, 0.0),
	}
}

// CrossInput switches to cross-attention: queries and keys are computed from cross (shaped like x),
// while values are still computed from x. If cross is nil this is a no-op.
func (b *Builder) CrossInput(cross *Node) *Builder {
	b.cross = cross
	return b
}

// NumHeads sets the number of attention heads. Default is 8.
func (b *Builder) NumHeads(numHeads int) *Builder {
	b.numHeads = numHeads
	return b
}

// HeadDim sets the dimension of each head. Default is embedDim/numHeads.
func (b *Builder) HeadDim(headDim int) *Builder {
	b.headDim = headDim
	return b
}

// OneKVHead uses a single key/value head shared by all query heads.
func (b *Builder) OneKVHead(value bool) *Builder {
	b.oneKVHead = value
	return b
}

// ShareKV uses the keys as values, and the keys projection for both.
func (b *Builder) ShareKV(value bool) *Builder {
	b.shareKV = value
	return b
}

// Dropout sets the dropout rate applied to the attention coefficients during training.
func (b *Builder) Dropout(rate float64) *Builder {
	b.dropoutRate = rate
	return b
}

// Done builds the attention and returns its output shaped `[batch, seqLen, embedDim]`.
func (b *Builder) Done() *Node {
	ctx := b.ctx
	x := b.x
	if x.Rank() != 3 {
		Panicf("linformer requires x shaped [batch, seqLen, embedDim], got %s", x.Shape())
	}
	batchSize, seqLen, embedDim := x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	if seqLen != b.seqLen {
		Panicf("the sequence length of the values must be %d - %d given", b.seqLen, seqLen)
	}
	qkInput := x
	if b.cross != nil {
		if !b.cross.Shape().Equal(x.Shape()) {
			if b.cross.Rank() == 3 && b.cross.Shape().Dimensions[1] != b.seqLen {
				Panicf("the sequence length of the values must be %d - %d given", b.seqLen, b.cross.Shape().Dimensions[1])
			}
			Panicf("linformer shape mismatch: cross input %s, x %s", b.cross.Shape(), x.Shape())
		}
		qkInput = b.cross
	}
	if b.numHeads <= 0 || embedDim%b.numHeads != 0 {
		Panicf("dimension %d must be divisible by the number of heads %d", embedDim, b.numHeads)
	}
	if b.k <= 0 {
		Panicf("linformer requires a positive number of inducing points, got k=%d", b.k)
	}
	headDim := b.headDim
	if headDim <= 0 {
		headDim = embedDim / b.numHeads
	}
	kvHeads := b.numHeads
	if b.oneKVHead {
		kvHeads = 1
	}
	klog.V(2).Infof("linformer %q: seqLen=%d, k=%d, heads=%d, headDim=%d", ctx.Scope(), b.seqLen, b.k, b.numHeads, headDim)

	g := x.Graph()
	dtype := x.DType()
	queries := layers.Dense(ctx.In("query"), qkInput, false, b.numHeads, headDim) // [batch, seqLen, heads, headDim]
	keys := layers.Dense(ctx.In("key"), qkInput, false, kvHeads, headDim)
	values := keys
	if !b.shareKV {
		values = layers.Dense(ctx.In("value"), x, false, kvHeads, headDim)
	}

	// Projections along the sequence axis, initialized uniformly in ±1/sqrt(k).
	bound := 1.0 / math.Sqrt(float64(b.k))
	projCtx := ctx.WithInitializer(initializers.RandomUniformFn(ctx, -bound, bound))
	projShape := shapes.Make(dtype, b.seqLen, b.k)
	projK := projCtx.VariableWithShape("proj_k", projShape).ValueGraph(g)
	projV := projK
	if !b.shareKV {
		projV = projCtx.VariableWithShape("proj_v", projShape).ValueGraph(g)
	}
	keys = Einsum("bnhd,nk->bkhd", keys, projK)
	values = Einsum("bnhd,nk->bkhd", values, projV)
	if b.oneKVHead {
		keys = BroadcastToDims(keys, batchSize, b.k, b.numHeads, headDim)
		values = BroadcastToDims(values, batchSize, b.k, b.numHeads, headDim)
	}

	// Attention over the k inducing points.
	logits := Einsum("bnhd,bkhd->bhnk", queries, keys)
	logits = MulScalar(logits, math.Pow(float64(headDim), -0.5))
	coefficients := Softmax(logits, -1)
	coefficients = layers.DropoutStatic(ctx, coefficients, b.dropoutRate)
	output := Einsum("bhnk,bkhd->bnhd", coefficients, values)
	output = Reshape(output, batchSize, seqLen, b.numHeads*headDim)
	return layers.Dense(ctx.In("output"), output, true, embedDim)
}
