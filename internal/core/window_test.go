package core

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{input: "00:00", want: 0},
		{input: "09:30", want: NewTimeOfDay(9, 30, 0)},
		{input: " 23:59:59 ", want: NewTimeOfDay(23, 59, 59)},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "12", wantErr: true},
		{input: "1:2:3:4", wantErr: true},
		{input: "ab:cd", wantErr: true},
	}

	for _, test := range tests {
		got, err := ParseTimeOfDay(test.input)
		if test.wantErr {
			if err == nil {
				t.Fatalf("ParseTimeOfDay(%q) error = nil, want error", test.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) error = %v", test.input, err)
		}
		if got != test.want {
			t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestTimeOfDayString(t *testing.T) {
	if got := NewTimeOfDay(7, 5, 0).String(); got != "07:05" {
		t.Fatalf("String() = %q, want 07:05", got)
	}
	if got := NewTimeOfDay(22, 0, 30).String(); got != "22:00:30" {
		t.Fatalf("String() = %q, want 22:00:30", got)
	}
}

func TestParseWeekday(t *testing.T) {
	for input, want := range map[string]time.Weekday{
		"Monday": time.Monday,
		"tue":    time.Tuesday,
		" SAT ":  time.Saturday,
		"0":      time.Sunday,
		"6":      time.Saturday,
	} {
		got, err := ParseWeekday(input)
		if err != nil {
			t.Fatalf("ParseWeekday(%q) error = %v", input, err)
		}
		if time.Weekday(got) != want {
			t.Fatalf("ParseWeekday(%q) = %v, want %v", input, got, want)
		}
	}

	for _, input := range []string{"", "mo", "7", "funday"} {
		if _, err := ParseWeekday(input); err == nil {
			t.Fatalf("ParseWeekday(%q) error = nil, want error", input)
		}
	}
}

func TestWindowFieldsJSON(t *testing.T) {
	var flag FeatureFlag
	payload := `{"key":"w","window_start_time":"22:00","window_end_time":"06:00:00","window_days":["monday","Fri"]}`
	if err := json.Unmarshal([]byte(payload), &flag); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if *flag.WindowStartTime != NewTimeOfDay(22, 0, 0) || *flag.WindowEndTime != NewTimeOfDay(6, 0, 0) {
		t.Fatalf("window = %v-%v", flag.WindowStartTime, flag.WindowEndTime)
	}
	if len(flag.WindowDays) != 2 || time.Weekday(flag.WindowDays[1]) != time.Friday {
		t.Fatalf("WindowDays = %v", flag.WindowDays)
	}

	encoded, err := json.Marshal(flag.WindowDays)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(encoded) != `["Monday","Friday"]` {
		t.Fatalf("Marshal(WindowDays) = %s", encoded)
	}
}

func TestTimeWindowFlagHandler(t *testing.T) {
	handler := TimeWindowFlagHandler{}
	overnight := FeatureFlag{
		Key:             "overnight",
		Status:          StatusTimeWindow,
		WindowStartTime: todPtr(22, 0),
		WindowEndTime:   todPtr(6, 0),
	}
	mondays := overnight
	mondays.WindowStartTime = todPtr(9, 0)
	mondays.WindowEndTime = todPtr(17, 0)
	mondays.WindowDays = []Weekday{Weekday(time.Monday)}

	// 2025-06-02 is a Monday.
	tests := []struct {
		name       string
		flag       FeatureFlag
		ec         EvaluationContext
		wantOn     bool
		wantReason string
	}{
		{
			name:       "late evening inside wrapping window",
			flag:       overnight,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "early morning inside wrapping window",
			flag:       overnight,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC)},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "noon outside wrapping window",
			flag:       overnight,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)},
			wantReason: "Outside time window",
		},
		{
			name:       "window bounds are inclusive",
			flag:       overnight,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "allowed day inside hours",
			flag:       mondays,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "disallowed day",
			flag:       mondays,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)},
			wantReason: "Outside allowed days",
		},
		{
			name: "context zone shifts the local day",
			flag: mondays,
			// 02:00 UTC Tuesday is 22:00 Monday in New York, outside 09:00-17:00.
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC), TimeZone: "America/New_York"},
			wantReason: "Outside time window",
		},
		{
			name: "flag zone used when context has none",
			flag: func() FeatureFlag {
				f := mondays
				f.TimeZone = "Asia/Tokyo"
				return f
			}(),
			// 01:00 UTC Monday is 10:00 Monday in Tokyo.
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "unknown zone falls back to UTC",
			flag:       mondays,
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), TimeZone: "Mars/Olympus"},
			wantOn:     true,
			wantReason: "Within time window",
		},
		{
			name:       "missing bounds",
			flag:       FeatureFlag{Status: StatusTimeWindow, WindowStartTime: todPtr(1, 0)},
			ec:         EvaluationContext{EvaluationTime: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)},
			wantReason: "Time window not configured",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, handled := handler.Evaluate(&test.flag, test.ec)
			if !handled {
				t.Fatal("Evaluate() delegated, time window handler is terminal")
			}
			if result.Enabled != test.wantOn || result.Reason != test.wantReason {
				t.Fatalf("Evaluate() = %+v, want enabled=%t reason=%q", result, test.wantOn, test.wantReason)
			}
		})
	}
}

func TestInWindow(t *testing.T) {
	start, end := NewTimeOfDay(9, 0, 0), NewTimeOfDay(17, 0, 0)
	if !inWindow(start, start, end) || !inWindow(end, start, end) {
		t.Fatal("inWindow() excludes its bounds")
	}
	if inWindow(end+1, start, end) {
		t.Fatal("inWindow() includes time past end")
	}
	if inWindow(NewTimeOfDay(12, 0, 0), start, start) || !inWindow(start, start, start) {
		t.Fatal("inWindow() with equal bounds must hold only that instant")
	}
}
