package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matt-riley/flagchain/internal/core"
)

func TestNormalizeNotifyChannel(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		if got := normalizeNotifyChannel(""); got != defaultNotifyChannel {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, defaultNotifyChannel)
		}
	})

	t.Run("trims non-empty values", func(t *testing.T) {
		if got := normalizeNotifyChannel("  custom_events  "); got != "custom_events" {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, "custom_events")
		}
	})
}

func TestNotifyPayload(t *testing.T) {
	payload, err := marshalNotifyPayload("new-ui", EventTypeUpdated)
	if err != nil {
		t.Fatalf("marshalNotifyPayload() error = %v", err)
	}
	if payload != `{"flag_key":"new-ui","event_type":"updated"}` {
		t.Fatalf("marshalNotifyPayload() = %s", payload)
	}

	key, err := parseNotifyPayload(payload)
	if err != nil || key != "new-ui" {
		t.Fatalf("parseNotifyPayload() = %q, %v, want new-ui", key, err)
	}

	if _, err := parseNotifyPayload(`not json`); err == nil {
		t.Fatal("parseNotifyPayload(garbage) error = nil, want error")
	}
	if _, err := parseNotifyPayload(`{"event_type":"updated"}`); err == nil {
		t.Fatal("parseNotifyPayload(no key) error = nil, want error")
	}
}

func TestListenStatement(t *testing.T) {
	if got := listenStatement("flag_events"); got != `LISTEN "flag_events"` {
		t.Fatalf("listenStatement() = %q, want %q", got, `LISTEN "flag_events"`)
	}
}

func TestDeleteFlagNoRows(t *testing.T) {
	if err := deleteFlagNoRows(pgconn.NewCommandTag("DELETE 1")); err != nil {
		t.Fatalf("deleteFlagNoRows(delete 1) error = %v, want nil", err)
	}

	if err := deleteFlagNoRows(pgconn.NewCommandTag("DELETE 0")); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("deleteFlagNoRows(delete 0) error = %v, want %v", err, ErrFlagNotFound)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(dup) {
		t.Fatal("isUniqueViolation(23505) = false, want true")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("isUniqueViolation(23503) = true, want false")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("isUniqueViolation(plain error) = true, want false")
	}
}

func TestFlagRecordRoundTrip(t *testing.T) {
	start := core.NewTimeOfDay(22, 0, 0)
	end := core.NewTimeOfDay(6, 30, 0)
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	flag := core.FeatureFlag{
		ID:               uuid.MustParse("6f2c1b9e-3a4d-4c5e-8f70-1a2b3c4d5e6f"),
		Key:              "night-mode",
		Name:             "Night mode",
		Status:           core.StatusTimeWindow,
		DefaultVariation: "day",
		Variations: map[string]core.Value{
			"day":   core.String("light"),
			"night": core.Document(map[string]core.Value{"contrast": core.Int(3)}),
		},
		ExpirationDate:  &expiry,
		WindowStartTime: &start,
		WindowEndTime:   &end,
		WindowDays:      []core.Weekday{core.Weekday(time.Friday), core.Weekday(time.Saturday)},
		TimeZone:        "Europe/Berlin",
		TargetingRules: []core.TargetingRule{
			{Attribute: "plan", Operator: core.OperatorIn, Values: []string{"pro", "team"}, Variation: "night"},
		},
		PercentageEnabled:       25,
		TenantPercentageEnabled: 80,
		EnabledUsers:            []string{"alice"},
		DisabledTenants:         []string{"legacy"},
		CreatedBy:               "ops",
		UpdatedBy:               "ops",
	}

	record, err := newFlagRecord(flag)
	if err != nil {
		t.Fatalf("newFlagRecord() error = %v", err)
	}
	if *record.WindowStartTime != "22:00" || record.WindowDays[0] != "Friday" {
		t.Fatalf("record window = %v %v", *record.WindowStartTime, record.WindowDays)
	}
	if record.DisabledUsers == nil || record.EnabledTenants == nil {
		t.Fatal("nil user/tenant lists must encode as empty arrays")
	}

	got, err := record.toFlag()
	if err != nil {
		t.Fatalf("toFlag() error = %v", err)
	}

	want := flag
	want.DisabledUsers = []string{}
	want.EnabledTenants = []string{}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b core.Value) bool { return a.Text() == b.Text() && a.Kind() == b.Kind() })); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewFlagRecordDefaults(t *testing.T) {
	record, err := newFlagRecord(core.FeatureFlag{Key: "bare"})
	if err != nil {
		t.Fatalf("newFlagRecord() error = %v", err)
	}
	if record.ID == uuid.Nil {
		t.Fatal("newFlagRecord() left ID unset")
	}
	if record.Status != string(core.StatusDisabled) || record.DefaultVariation != core.VariationOff {
		t.Fatalf("record = %+v", record)
	}
	if string(record.Variations) != "{}" || string(record.TargetingRules) != "[]" {
		t.Fatalf("json columns = %s %s", record.Variations, record.TargetingRules)
	}

	if _, err := newFlagRecord(core.FeatureFlag{}); err == nil {
		t.Fatal("newFlagRecord(no key) error = nil, want error")
	}
}

func TestFlagRecordRejectsCorruptColumns(t *testing.T) {
	bad := "25:99"
	record := flagRecord{Key: "broken", WindowStartTime: &bad}
	if _, err := record.toFlag(); err == nil {
		t.Fatal("toFlag() error = nil for invalid window start")
	}

	record = flagRecord{Key: "broken", Variations: []byte("{")}
	if _, err := record.toFlag(); err == nil {
		t.Fatal("toFlag() error = nil for invalid variations JSON")
	}
}
