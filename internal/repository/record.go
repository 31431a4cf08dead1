package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/flagchain/internal/core"
)

// flagRecord is the column-level shape of a feature_flags row.
type flagRecord struct {
	ID                   uuid.UUID
	Key                  string
	Name                 string
	Description          string
	Status               string
	DefaultVariation     string
	Variations           []byte
	ExpirationDate       *time.Time
	ScheduledEnableDate  *time.Time
	ScheduledDisableDate *time.Time
	WindowStartTime      *string
	WindowEndTime        *string
	WindowDays           []string
	TimeZone             string
	TargetingRules       []byte
	PercentageEnabled    int32
	TenantPercentage     int32
	EnabledUsers         []string
	DisabledUsers        []string
	EnabledTenants       []string
	DisabledTenants      []string
	CreatedBy            string
	UpdatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func newFlagRecord(flag core.FeatureFlag) (flagRecord, error) {
	if flag.Key == "" {
		return flagRecord{}, fmt.Errorf("encode flag: key is required")
	}

	variations := flag.Variations
	if variations == nil {
		variations = map[string]core.Value{}
	}
	variationsJSON, err := json.Marshal(variations)
	if err != nil {
		return flagRecord{}, fmt.Errorf("encode flag %q variations: %w", flag.Key, err)
	}

	rules := flag.TargetingRules
	if rules == nil {
		rules = []core.TargetingRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return flagRecord{}, fmt.Errorf("encode flag %q targeting rules: %w", flag.Key, err)
	}

	id := flag.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	status := flag.Status
	if status == "" {
		status = core.StatusDisabled
	}

	record := flagRecord{
		ID:                   id,
		Key:                  flag.Key,
		Name:                 flag.Name,
		Description:          flag.Description,
		Status:               string(status),
		DefaultVariation:     flag.OffVariation(),
		Variations:           variationsJSON,
		ExpirationDate:       flag.ExpirationDate,
		ScheduledEnableDate:  flag.ScheduledEnableDate,
		ScheduledDisableDate: flag.ScheduledDisableDate,
		WindowStartTime:      timeOfDayText(flag.WindowStartTime),
		WindowEndTime:        timeOfDayText(flag.WindowEndTime),
		WindowDays:           make([]string, 0, len(flag.WindowDays)),
		TimeZone:             flag.TimeZone,
		TargetingRules:       rulesJSON,
		PercentageEnabled:    int32(flag.PercentageEnabled),
		TenantPercentage:     int32(flag.TenantPercentageEnabled),
		EnabledUsers:         nonNil(flag.EnabledUsers),
		DisabledUsers:        nonNil(flag.DisabledUsers),
		EnabledTenants:       nonNil(flag.EnabledTenants),
		DisabledTenants:      nonNil(flag.DisabledTenants),
		CreatedBy:            flag.CreatedBy,
		UpdatedBy:            flag.UpdatedBy,
	}
	for _, day := range flag.WindowDays {
		record.WindowDays = append(record.WindowDays, day.String())
	}

	return record, nil
}

// args returns the insert parameters in flagColumns order, without the
// timestamp columns.
func (r flagRecord) args() []any {
	return []any{
		r.ID, r.Key, r.Name, r.Description, r.Status, r.DefaultVariation, r.Variations,
		r.ExpirationDate, r.ScheduledEnableDate, r.ScheduledDisableDate,
		r.WindowStartTime, r.WindowEndTime, r.WindowDays, r.TimeZone,
		r.TargetingRules, r.PercentageEnabled, r.TenantPercentage,
		r.EnabledUsers, r.DisabledUsers, r.EnabledTenants, r.DisabledTenants,
		r.CreatedBy, r.UpdatedBy,
	}
}

func (r flagRecord) toFlag() (core.FeatureFlag, error) {
	flag := core.FeatureFlag{
		ID:                      r.ID,
		Key:                     r.Key,
		Name:                    r.Name,
		Description:             r.Description,
		Status:                  core.Status(r.Status),
		DefaultVariation:        r.DefaultVariation,
		ExpirationDate:          r.ExpirationDate,
		ScheduledEnableDate:     r.ScheduledEnableDate,
		ScheduledDisableDate:    r.ScheduledDisableDate,
		TimeZone:                r.TimeZone,
		PercentageEnabled:       int(r.PercentageEnabled),
		TenantPercentageEnabled: int(r.TenantPercentage),
		EnabledUsers:            r.EnabledUsers,
		DisabledUsers:           r.DisabledUsers,
		EnabledTenants:          r.EnabledTenants,
		DisabledTenants:         r.DisabledTenants,
		CreatedBy:               r.CreatedBy,
		UpdatedBy:               r.UpdatedBy,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}

	if len(r.Variations) > 0 {
		if err := json.Unmarshal(r.Variations, &flag.Variations); err != nil {
			return core.FeatureFlag{}, fmt.Errorf("decode flag %q variations: %w", r.Key, err)
		}
	}
	if len(r.TargetingRules) > 0 {
		if err := json.Unmarshal(r.TargetingRules, &flag.TargetingRules); err != nil {
			return core.FeatureFlag{}, fmt.Errorf("decode flag %q targeting rules: %w", r.Key, err)
		}
	}

	var err error
	if flag.WindowStartTime, err = parseTimeOfDay(r.WindowStartTime); err != nil {
		return core.FeatureFlag{}, fmt.Errorf("decode flag %q window start: %w", r.Key, err)
	}
	if flag.WindowEndTime, err = parseTimeOfDay(r.WindowEndTime); err != nil {
		return core.FeatureFlag{}, fmt.Errorf("decode flag %q window end: %w", r.Key, err)
	}
	for _, name := range r.WindowDays {
		day, err := core.ParseWeekday(name)
		if err != nil {
			return core.FeatureFlag{}, fmt.Errorf("decode flag %q window days: %w", r.Key, err)
		}
		flag.WindowDays = append(flag.WindowDays, day)
	}

	return flag, nil
}

func scanFlag(row pgx.Row) (core.FeatureFlag, error) {
	var r flagRecord
	if err := row.Scan(
		&r.ID, &r.Key, &r.Name, &r.Description, &r.Status, &r.DefaultVariation, &r.Variations,
		&r.ExpirationDate, &r.ScheduledEnableDate, &r.ScheduledDisableDate,
		&r.WindowStartTime, &r.WindowEndTime, &r.WindowDays, &r.TimeZone,
		&r.TargetingRules, &r.PercentageEnabled, &r.TenantPercentage,
		&r.EnabledUsers, &r.DisabledUsers, &r.EnabledTenants, &r.DisabledTenants,
		&r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return core.FeatureFlag{}, err
	}

	return r.toFlag()
}

func timeOfDayText(t *core.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	text := t.String()
	return &text
}

func parseTimeOfDay(text *string) (*core.TimeOfDay, error) {
	if text == nil || *text == "" {
		return nil, nil
	}
	parsed, err := core.ParseTimeOfDay(*text)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
