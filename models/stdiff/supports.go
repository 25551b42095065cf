package stdiff

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/stdiff/stdiff/ml/layers/gcn"
)

// BuildSupports returns the graph convolution supports for the weighted adjacency of the nodes: its
// forward and backward transition matrices and, if cfg.Adaptive, the learned adjacency factors
// (variables created in ctx).
func BuildSupports(ctx *context.Context, cfg *Config, g *Graph, adjacency mat.Matrix) (gcn.Supports, error) {
	numNodes, _ := adjacency.Dims()
	if numNodes != cfg.NumNodes {
		return gcn.Supports{}, errors.Errorf("adjacency has %d nodes, but %q=%d", numNodes, ParamNumNodes, cfg.NumNodes)
	}
	forward, backward, err := gcn.TransitionMatrices(adjacency)
	if err != nil {
		return gcn.Supports{}, errors.WithMessage(err, "building supports")
	}
	supports := gcn.Supports{Fixed: gcn.SupportNodes(g, cfg.DType, forward, backward)}
	if cfg.Adaptive {
		supports.NodeVec1, supports.NodeVec2 = gcn.LearnedNodeVectors(ctx, g, cfg.DType, cfg.NumNodes, cfg.AdaptiveRank)
	}
	return supports, nil
}
