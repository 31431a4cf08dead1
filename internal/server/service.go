package server

import (
	"context"

	"github.com/matt-riley/flagchain/internal/core"
	"github.com/matt-riley/flagchain/internal/service"
)

// Evaluator is the evaluation surface the HTTP transport depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, key string, ec core.EvaluationContext) core.EvaluationResult
	EvaluateAll(ctx context.Context, keys []string, ec core.EvaluationContext) map[string]core.EvaluationResult
	ResolveVariation(ctx context.Context, key string, def core.Value, ec core.EvaluationContext) core.Value
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Evaluator = (*service.Evaluator)(nil)
