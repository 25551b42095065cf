package gcn

import (
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TransitionMatrices returns the forward and backward random-walk transition matrices of the weighted
// adjacency adj: the rows of adj (resp. of its transpose) divided by their sums.
//
// Nodes without outgoing (resp. incoming) edges get an all-zero row.
func TransitionMatrices(adj mat.Matrix) (forward, backward *mat.Dense, err error) {
	rows, cols := adj.Dims()
	if rows != cols || rows == 0 {
		return nil, nil, errors.Errorf("adjacency must be a non-empty square matrix, got %dx%d", rows, cols)
	}
	forward = rowNormalized(adj)
	backward = rowNormalized(adj.T())
	return forward, backward, nil
}

func rowNormalized(m mat.Matrix) *mat.Dense {
	var normalized mat.Dense
	normalized.CloneFrom(m)
	rows, cols := normalized.Dims()
	for row := range rows {
		scale := 1.0 / mat.Sum(normalized.RowView(row))
		if math.IsInf(scale, 0) || math.IsNaN(scale) {
			scale = 0
		}
		for col := range cols {
			normalized.Set(row, col, normalized.At(row, col)*scale)
		}
	}
	return &normalized
}

// SupportNodes converts the given matrices to graph constants of the given dtype, in the same order.
func SupportNodes(g *Graph, dtype dtypes.DType, matrices ...mat.Matrix) []*Node {
	nodes := make([]*Node, 0, len(matrices))
	for _, m := range matrices {
		rows, cols := m.Dims()
		values := make([][]float64, rows)
		for row := range rows {
			values[row] = make([]float64, cols)
			for col := range cols {
				values[row][col] = m.At(row, col)
			}
		}
		nodes = append(nodes, ConvertDType(Const(g, values), dtype))
	}
	return nodes
}

// LearnedNodeVectors creates (or reuses) the adaptive adjacency factors as variables in the context:
// "node_vec_1" shaped `[numNodes, rank]` and "node_vec_2" shaped `[rank, numNodes]`, initialized with a
// standard normal distribution.
func LearnedNodeVectors(ctx *context.Context, g *Graph, dtype dtypes.DType, numNodes, rank int) (nodeVec1, nodeVec2 *Node) {
	ctx = ctx.In("node_vectors").WithInitializer(initializers.RandomNormalFn(ctx, 1.0))
	nodeVec1 = ctx.VariableWithShape("node_vec_1", shapes.Make(dtype, numNodes, rank)).ValueGraph(g)
	nodeVec2 = ctx.VariableWithShape("node_vec_2", shapes.Make(dtype, rank, numNodes)).ValueGraph(g)
	return
}
