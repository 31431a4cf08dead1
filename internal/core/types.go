package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status selects which status-based handler is allowed to decide a flag.
type Status string

const (
	StatusDisabled     Status = "disabled"
	StatusEnabled      Status = "enabled"
	StatusScheduled    Status = "scheduled"
	StatusTimeWindow   Status = "time_window"
	StatusUserTargeted Status = "user_targeted"
	StatusPercentage   Status = "percentage"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDisabled, StatusEnabled, StatusScheduled, StatusTimeWindow, StatusUserTargeted, StatusPercentage:
		return true
	default:
		return false
	}
}

const (
	VariationOn  = "on"
	VariationOff = "off"

	// SystemActor is recorded as creator of flags provisioned by the evaluator.
	SystemActor = "System"

	// DefaultTenantPercentage lets every tenant through the tenant rollout gate.
	DefaultTenantPercentage = 100
)

type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

type TargetingRule struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Operator  Operator `json:"operator" yaml:"operator"`
	Values    []string `json:"values" yaml:"values"`
	Variation string   `json:"variation" yaml:"variation"`
}

// FeatureFlag is the rule definition for a single flag. The evaluation
// pipeline treats it as read-only.
type FeatureFlag struct {
	ID          uuid.UUID `json:"id" yaml:"id,omitempty"`
	Key         string    `json:"key" yaml:"key"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Status      Status    `json:"status" yaml:"status"`

	DefaultVariation string           `json:"default_variation" yaml:"default_variation"`
	Variations       map[string]Value `json:"variations,omitempty" yaml:"variations,omitempty"`

	ExpirationDate       *time.Time `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	ScheduledEnableDate  *time.Time `json:"scheduled_enable_date,omitempty" yaml:"scheduled_enable_date,omitempty"`
	ScheduledDisableDate *time.Time `json:"scheduled_disable_date,omitempty" yaml:"scheduled_disable_date,omitempty"`

	WindowStartTime *TimeOfDay `json:"window_start_time,omitempty" yaml:"window_start_time,omitempty"`
	WindowEndTime   *TimeOfDay `json:"window_end_time,omitempty" yaml:"window_end_time,omitempty"`
	WindowDays      []Weekday  `json:"window_days,omitempty" yaml:"window_days,omitempty"`
	TimeZone        string     `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`

	TargetingRules []TargetingRule `json:"targeting_rules,omitempty" yaml:"targeting_rules,omitempty"`

	PercentageEnabled       int `json:"percentage_enabled" yaml:"percentage_enabled"`
	TenantPercentageEnabled int `json:"tenant_percentage_enabled" yaml:"tenant_percentage_enabled"`

	EnabledUsers    []string `json:"enabled_users,omitempty" yaml:"enabled_users,omitempty"`
	DisabledUsers   []string `json:"disabled_users,omitempty" yaml:"disabled_users,omitempty"`
	EnabledTenants  []string `json:"enabled_tenants,omitempty" yaml:"enabled_tenants,omitempty"`
	DisabledTenants []string `json:"disabled_tenants,omitempty" yaml:"disabled_tenants,omitempty"`

	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// DefaultFlag returns the disabled flag synthesized for keys that do not
// exist in the repository.
func DefaultFlag(key string) FeatureFlag {
	return FeatureFlag{
		Key:              key,
		Name:             key,
		Description:      fmt.Sprintf("Auto-created flag for %s", key),
		Status:           StatusDisabled,
		DefaultVariation: VariationOff,
		Variations: map[string]Value{
			VariationOff: Bool(false),
			VariationOn:  Bool(true),
		},
		TenantPercentageEnabled: DefaultTenantPercentage,
		CreatedBy:               SystemActor,
		UpdatedBy:               SystemActor,
	}
}

// OffVariation returns the flag's default variation, or "off" when blank.
func (f *FeatureFlag) OffVariation() string {
	if strings.TrimSpace(f.DefaultVariation) == "" {
		return VariationOff
	}
	return f.DefaultVariation
}

// VariationValue returns the payload registered under the named variation.
func (f *FeatureFlag) VariationValue(name string) (Value, bool) {
	if f == nil || f.Variations == nil {
		return Value{}, false
	}
	value, ok := f.Variations[name]
	return value, ok
}

// EvaluationContext is the per-request input to the handler chain. The With*
// helpers return modified copies and never touch the receiver's attributes.
type EvaluationContext struct {
	TenantID       string         `json:"tenant_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	EvaluationTime time.Time      `json:"evaluation_time,omitzero"`
	TimeZone       string         `json:"time_zone,omitempty"`
}

func NewEvaluationContext(tenantID, userID string, attributes map[string]any) EvaluationContext {
	return EvaluationContext{
		TenantID:   tenantID,
		UserID:     userID,
		Attributes: attributes,
	}
}

func (c EvaluationContext) WithTenant(tenantID string) EvaluationContext {
	c.TenantID = tenantID
	return c
}

func (c EvaluationContext) WithUser(userID string) EvaluationContext {
	c.UserID = userID
	return c
}

func (c EvaluationContext) WithAttribute(key string, value any) EvaluationContext {
	attributes := make(map[string]any, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		attributes[k] = v
	}
	attributes[key] = value
	c.Attributes = attributes
	return c
}

func (c EvaluationContext) WithEvaluationTime(at time.Time) EvaluationContext {
	c.EvaluationTime = at
	return c
}

func (c EvaluationContext) WithTimeZone(zone string) EvaluationContext {
	c.TimeZone = zone
	return c
}

// Now returns the evaluation time override, or the current wall-clock time.
func (c EvaluationContext) Now() time.Time {
	if !c.EvaluationTime.IsZero() {
		return c.EvaluationTime
	}
	return time.Now()
}

// tenant and user return the id verbatim, or "" when it is blank. Overrides
// and bucket inputs compare the raw id.
func (c EvaluationContext) tenant() string {
	return nonBlank(c.TenantID)
}

func (c EvaluationContext) user() string {
	return nonBlank(c.UserID)
}

func nonBlank(id string) string {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return id
}

// EvaluationResult is the outcome of running a flag through the chain.
type EvaluationResult struct {
	Enabled   bool   `json:"enabled"`
	Variation string `json:"variation"`
	Reason    string `json:"reason"`
	// Handler names the handler that produced the result.
	Handler string `json:"-"`
}

// VariationOrOff renders an empty variation as "off".
func (r EvaluationResult) VariationOrOff() string {
	if r.Variation == "" {
		return VariationOff
	}
	return r.Variation
}
