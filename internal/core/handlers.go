package core

import (
	"fmt"
	"slices"
	"time"
)

// Handler is one link of the evaluation chain. Evaluate reports false to
// defer to the next link. Handlers must not mutate the flag or the context.
type Handler interface {
	Name() string
	CanProcess(flag *FeatureFlag, ec EvaluationContext) bool
	Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool)
}

const (
	ReasonEndOfChain = "End of evaluation chain"
	ReasonNotFound   = "Flag not found, using default disabled flag"
)

func enabled(handler Handler, variation, reason string) EvaluationResult {
	return EvaluationResult{Enabled: true, Variation: variation, Reason: reason, Handler: handler.Name()}
}

func disabled(handler Handler, flag *FeatureFlag, reason string) EvaluationResult {
	return EvaluationResult{Enabled: false, Variation: flag.OffVariation(), Reason: reason, Handler: handler.Name()}
}

type UserOverrideHandler struct{}

func (UserOverrideHandler) Name() string { return "user_override" }

func (UserOverrideHandler) CanProcess(_ *FeatureFlag, ec EvaluationContext) bool {
	return ec.user() != ""
}

func (h UserOverrideHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	user := ec.user()
	if slices.Contains(flag.DisabledUsers, user) {
		return disabled(h, flag, "User explicitly disabled"), true
	}
	if slices.Contains(flag.EnabledUsers, user) {
		return enabled(h, VariationOn, "User explicitly enabled"), true
	}
	return EvaluationResult{}, false
}

// TenantOverrideHandler blocks disabled tenants and tenants outside the
// tenant rollout. Explicitly enabled tenants skip the rollout gate but still
// continue down the chain.
type TenantOverrideHandler struct{}

func (TenantOverrideHandler) Name() string { return "tenant_override" }

func (TenantOverrideHandler) CanProcess(_ *FeatureFlag, ec EvaluationContext) bool {
	return ec.tenant() != ""
}

func (h TenantOverrideHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	tenant := ec.tenant()
	if slices.Contains(flag.DisabledTenants, tenant) {
		return disabled(h, flag, "Tenant explicitly disabled"), true
	}
	if slices.Contains(flag.EnabledTenants, tenant) {
		return EvaluationResult{}, false
	}
	if TenantBucket(flag.Key, tenant) >= flag.TenantPercentageEnabled {
		return disabled(h, flag, "Tenant not in percentage rollout"), true
	}
	return EvaluationResult{}, false
}

type ExpirationDateHandler struct{}

func (ExpirationDateHandler) Name() string { return "expiration_date" }

func (ExpirationDateHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.ExpirationDate != nil && !flag.ExpirationDate.IsZero()
}

func (h ExpirationDateHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	now := ec.Now()
	if now.Before(*flag.ExpirationDate) {
		return EvaluationResult{}, false
	}
	reason := fmt.Sprintf("Flag %s expired at %s, current time %s",
		flag.Key, flag.ExpirationDate.Format(time.RFC3339), now.Format(time.RFC3339))
	return disabled(h, flag, reason), true
}

type ScheduledFlagHandler struct{}

func (ScheduledFlagHandler) Name() string { return "scheduled" }

func (ScheduledFlagHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.Status == StatusScheduled
}

func (h ScheduledFlagHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	now := ec.Now()
	if flag.ScheduledEnableDate == nil || now.Before(*flag.ScheduledEnableDate) {
		return disabled(h, flag, "Scheduled enable date not reached"), true
	}
	if flag.ScheduledDisableDate != nil && !now.Before(*flag.ScheduledDisableDate) {
		return disabled(h, flag, "Scheduled disable date passed"), true
	}
	return enabled(h, VariationOn, "Scheduled enable date reached"), true
}

type TimeWindowFlagHandler struct{}

func (TimeWindowFlagHandler) Name() string { return "time_window" }

func (TimeWindowFlagHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.Status == StatusTimeWindow
}

func (h TimeWindowFlagHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	if flag.WindowStartTime == nil || flag.WindowEndTime == nil {
		return disabled(h, flag, "Time window not configured"), true
	}

	local := ec.Now().In(resolveLocation(ec.TimeZone, flag.TimeZone))
	if len(flag.WindowDays) > 0 && !containsWeekday(flag.WindowDays, local.Weekday()) {
		return disabled(h, flag, "Outside allowed days"), true
	}
	if !inWindow(sinceMidnight(local), *flag.WindowStartTime, *flag.WindowEndTime) {
		return disabled(h, flag, "Outside time window"), true
	}
	return enabled(h, VariationOn, "Within time window"), true
}

type StatusBasedFlagHandler struct{}

func (StatusBasedFlagHandler) Name() string { return "status" }

func (StatusBasedFlagHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.Status == StatusDisabled || flag.Status == StatusEnabled
}

func (h StatusBasedFlagHandler) Evaluate(flag *FeatureFlag, _ EvaluationContext) (EvaluationResult, bool) {
	if flag.Status == StatusEnabled {
		return enabled(h, VariationOn, "Flag enabled"), true
	}
	return disabled(h, flag, "Flag disabled"), true
}

type TargetedFlagHandler struct{}

func (TargetedFlagHandler) Name() string { return "targeting" }

func (TargetedFlagHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.Status == StatusUserTargeted
}

func (h TargetedFlagHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	attributes := effectiveAttributes(ec)
	for _, rule := range flag.TargetingRules {
		if ruleMatches(rule, attributeText(attributes, rule.Attribute)) {
			return enabled(h, rule.Variation, "Targeting rule matched: "+describeRule(rule)), true
		}
	}
	return disabled(h, flag, "No targeting rules matched"), true
}

type UserPercentageHandler struct{}

func (UserPercentageHandler) Name() string { return "user_percentage" }

func (UserPercentageHandler) CanProcess(flag *FeatureFlag, _ EvaluationContext) bool {
	return flag.Status == StatusPercentage
}

func (h UserPercentageHandler) Evaluate(flag *FeatureFlag, ec EvaluationContext) (EvaluationResult, bool) {
	user := ec.user()
	if user == "" {
		return disabled(h, flag, "User ID required for percentage rollout"), true
	}

	bucket := UserBucket(flag.Key, user)
	reason := fmt.Sprintf("User percentage rollout: %d%% < %d%%", bucket, flag.PercentageEnabled)
	if bucket < flag.PercentageEnabled {
		return enabled(h, VariationOn, reason), true
	}
	return disabled(h, flag, reason), true
}

// TerminalHandler closes the chain with a disabled result.
type TerminalHandler struct{}

func (TerminalHandler) Name() string { return "terminal" }

func (TerminalHandler) CanProcess(*FeatureFlag, EvaluationContext) bool { return true }

func (h TerminalHandler) Evaluate(flag *FeatureFlag, _ EvaluationContext) (EvaluationResult, bool) {
	return disabled(h, flag, ReasonEndOfChain), true
}
