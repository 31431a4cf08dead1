package core

// Chain runs handlers in order until one produces a result. A Chain holds no
// per-call state and is safe for concurrent use.
type Chain struct {
	handlers []Handler
}

func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: append([]Handler(nil), handlers...)}
}

var defaultChain = NewChain(
	UserOverrideHandler{},
	TenantOverrideHandler{},
	ExpirationDateHandler{},
	ScheduledFlagHandler{},
	TimeWindowFlagHandler{},
	StatusBasedFlagHandler{},
	TargetedFlagHandler{},
	UserPercentageHandler{},
	TerminalHandler{},
)

// DefaultChain returns the shared chain with the standard precedence order.
func DefaultChain() *Chain {
	return defaultChain
}

// Handlers returns a copy of the chain's handlers in evaluation order.
func (c *Chain) Handlers() []Handler {
	return append([]Handler(nil), c.handlers...)
}

func (c *Chain) Evaluate(flag *FeatureFlag, ec EvaluationContext) EvaluationResult {
	if flag == nil {
		return EvaluationResult{Variation: VariationOff, Reason: ReasonEndOfChain, Handler: TerminalHandler{}.Name()}
	}

	for _, handler := range c.handlers {
		if !handler.CanProcess(flag, ec) {
			continue
		}
		if result, ok := handler.Evaluate(flag, ec); ok {
			return result
		}
	}

	return EvaluationResult{Variation: flag.OffVariation(), Reason: ReasonEndOfChain, Handler: TerminalHandler{}.Name()}
}

// EvaluateFlag runs flag through the default chain.
func EvaluateFlag(flag FeatureFlag, ec EvaluationContext) EvaluationResult {
	return defaultChain.Evaluate(&flag, ec)
}

// EvaluateFlags evaluates each flag with the same context, keyed by flag key.
func EvaluateFlags(flags []FeatureFlag, ec EvaluationContext) map[string]EvaluationResult {
	results := make(map[string]EvaluationResult, len(flags))

	for i := range flags {
		results[flags[i].Key] = defaultChain.Evaluate(&flags[i], ec)
	}

	return results
}
