package service

import (
	"context"

	"github.com/matt-riley/flagchain/internal/core"
)

// Client adapts primitive call shapes to the Evaluator.
type Client struct {
	evaluator *Evaluator
}

func NewClient(evaluator *Evaluator) *Client {
	return &Client{evaluator: evaluator}
}

func (c *Client) IsEnabled(ctx context.Context, key, tenantID, userID string, attributes map[string]any) bool {
	return c.Evaluate(ctx, key, tenantID, userID, attributes).Enabled
}

func (c *Client) Evaluate(ctx context.Context, key, tenantID, userID string, attributes map[string]any) core.EvaluationResult {
	return c.evaluator.Evaluate(ctx, key, core.NewEvaluationContext(tenantID, userID, attributes))
}

func (c *Client) GetStringVariation(ctx context.Context, key, def, tenantID, userID string, attributes map[string]any) string {
	return Variation(ctx, c, key, def, tenantID, userID, attributes)
}

func (c *Client) GetBoolVariation(ctx context.Context, key string, def bool, tenantID, userID string, attributes map[string]any) bool {
	return Variation(ctx, c, key, def, tenantID, userID, attributes)
}

// Variation is the Client form of GetVariation.
func Variation[T any](ctx context.Context, c *Client, key string, def T, tenantID, userID string, attributes map[string]any) T {
	if c == nil {
		return def
	}
	return GetVariation(ctx, c.evaluator, key, def, core.NewEvaluationContext(tenantID, userID, attributes))
}
