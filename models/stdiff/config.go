// Package stdiff holds the spatio-temporal blocks of a conditional diffusion model for imputing
// missing values of multivariate time series: each block takes features shaped
// `[batch, channels, nodes, steps]` and returns them with the same shape.
//
// The blocks are graph-building functions: their variables are created in the given context the
// first time they are built. Hyperparameters are read from the context (see CreateDefaultContext)
// with ConfigFromContext.
package stdiff

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph/nanlogger"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/stdiff/stdiff/ml/layers/encoder"
)

// Config holds the hyperparameters of the blocks.
type Config struct {
	DType dtypes.DType

	Channels, NumHeads int

	// NumNodes is the number of nodes (variables) of the series, and ProjectionDim the number of
	// inducing points of the projected spatial attention.
	NumNodes, ProjectionDim int

	// Graph convolution.
	Order                 int
	IncludeSelf, Adaptive bool
	AdaptiveRank          int

	// IsCross makes the reasoning blocks use the interpolated series for queries and keys.
	IsCross bool

	DropoutRate float64
	NormGroups  int

	TemporalLayers, TemporalFeedForwardDim int
	TemporalActivation                     string

	TCNKernelSize, TCNDilation int

	NumSteps, StepEmbeddingDim, StepProjectionDim int

	// NanLogger is enabled by setting the hyperparameter "nan_logger=true".
	NanLogger *nanlogger.NanLogger
}

// ConfigFromContext reads the hyperparameters from the context, using the defaults of
// CreateDefaultContext for those not set, and validates them.
func ConfigFromContext(ctx *context.Context) (*Config, error) {
	dtype, err := dtypes.DTypeString(context.GetParamOr(ctx, ParamDType, "float32"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %q hyperparameter", ParamDType)
	}
	cfg := &Config{
		DType:                  dtype,
		Channels:               context.GetParamOr(ctx, ParamChannels, 64),
		NumHeads:               context.GetParamOr(ctx, ParamNumHeads, 8),
		NumNodes:               context.GetParamOr(ctx, ParamNumNodes, 36),
		ProjectionDim:          context.GetParamOr(ctx, ParamProjectionDim, 16),
		Order:                  context.GetParamOr(ctx, ParamOrder, 2),
		IncludeSelf:            context.GetParamOr(ctx, ParamIncludeSelf, true),
		Adaptive:               context.GetParamOr(ctx, ParamAdaptive, true),
		AdaptiveRank:           context.GetParamOr(ctx, ParamAdaptiveRank, 10),
		IsCross:                context.GetParamOr(ctx, ParamIsCross, true),
		DropoutRate:            context.GetParamOr(ctx, ParamDropoutRate, 0.1),
		NormGroups:             context.GetParamOr(ctx, ParamNormGroups, 4),
		TemporalLayers:         context.GetParamOr(ctx, ParamTemporalLayers, 1),
		TemporalFeedForwardDim: context.GetParamOr(ctx, ParamTemporalFeedForwardDim, 64),
		TemporalActivation:     context.GetParamOr(ctx, ParamTemporalActivation, "gelu"),
		TCNKernelSize:          context.GetParamOr(ctx, ParamTCNKernelSize, 3),
		TCNDilation:            context.GetParamOr(ctx, ParamTCNDilation, 1),
		NumSteps:               context.GetParamOr(ctx, ParamNumSteps, 50),
		StepEmbeddingDim:       context.GetParamOr(ctx, ParamStepEmbeddingDim, 128),
		StepProjectionDim:      context.GetParamOr(ctx, ParamStepProjectionDim, 0),
	}
	if cfg.StepProjectionDim <= 0 {
		cfg.StepProjectionDim = cfg.StepEmbeddingDim
	}
	if context.GetParamOr(ctx, ParamNanLogger, false) {
		cfg.NanLogger = nanlogger.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the hyperparameters are consistent.
func (cfg *Config) Validate() error {
	if !cfg.DType.IsFloat() {
		return errors.Errorf("dtype must be a float type, got %s", cfg.DType)
	}
	positives := []struct {
		name  string
		value int
	}{
		{ParamChannels, cfg.Channels},
		{ParamNumHeads, cfg.NumHeads},
		{ParamNumNodes, cfg.NumNodes},
		{ParamProjectionDim, cfg.ProjectionDim},
		{ParamOrder, cfg.Order},
		{ParamNormGroups, cfg.NormGroups},
		{ParamTemporalLayers, cfg.TemporalLayers},
		{ParamTemporalFeedForwardDim, cfg.TemporalFeedForwardDim},
		{ParamTCNKernelSize, cfg.TCNKernelSize},
		{ParamTCNDilation, cfg.TCNDilation},
		{ParamNumSteps, cfg.NumSteps},
		{ParamStepProjectionDim, cfg.StepProjectionDim},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return errors.Errorf("%q must be > 0, got %d", p.name, p.value)
		}
	}
	if cfg.Adaptive && cfg.AdaptiveRank <= 0 {
		return errors.Errorf("%q must be > 0 when %q is set, got %d", ParamAdaptiveRank, ParamAdaptive, cfg.AdaptiveRank)
	}
	if cfg.Channels%cfg.NumHeads != 0 {
		return errors.Errorf("%q=%d must be divisible by %q=%d", ParamChannels, cfg.Channels, ParamNumHeads, cfg.NumHeads)
	}
	if cfg.Channels%cfg.NormGroups != 0 {
		return errors.Errorf("%q=%d must be divisible by %q=%d", ParamChannels, cfg.Channels, ParamNormGroups, cfg.NormGroups)
	}
	if _, err := encoder.ActivationFromName(cfg.TemporalActivation); err != nil {
		return errors.WithMessagef(err, "invalid %q", ParamTemporalActivation)
	}
	if cfg.StepEmbeddingDim < 2 || cfg.StepEmbeddingDim%2 != 0 {
		return errors.Errorf("%q must be an even number >= 2, got %d", ParamStepEmbeddingDim, cfg.StepEmbeddingDim)
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 {
		return errors.Errorf("%q must be in [0, 1), got %g", ParamDropoutRate, cfg.DropoutRate)
	}
	return nil
}

// Catch runs fn, which builds graphs with the blocks of this package, and returns any graph building
// failure (e.g. a shape mismatch) as an error.
func Catch(fn func()) error {
	return exceptions.TryCatch[error](fn)
}
