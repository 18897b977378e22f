package cronspec

import (
	"testing"
	"time"

	"wellbeat/internal/model"
)

func TestBuildRepeating(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		at       string
		schedule model.Schedule
		wantExpr string
		wantZone string
	}{
		{
			name:     "daily keeps the embedded offset",
			at:       "2024-01-01T08:30:00+02:00",
			schedule: model.Schedule{Type: model.Daily},
			wantExpr: "30 8 * * *",
			wantZone: "UTC+02:00",
		},
		{
			name:     "habit behaves like daily",
			at:       "2024-01-01T06:15:00-05:00",
			schedule: model.Schedule{Type: model.Habit},
			wantExpr: "15 6 * * *",
			wantZone: "UTC-05:00",
		},
		{
			name: "weekly joins its day tokens",
			at:   "2024-01-01T20:00:00Z",
			schedule: model.Schedule{
				Type:         model.Weekly,
				ScheduleDays: []model.Weekday{model.Monday, model.Wednesday, model.Friday},
			},
			wantExpr: "0 20 * * MON,WED,FRI",
			wantZone: "UTC",
		},
		{
			name: "monthly joins its days of month",
			at:   "2024-01-01T09:00:00+05:30",
			schedule: model.Schedule{
				Type:           model.Monthly,
				RepeatPerMonth: []int{1, 15},
			},
			wantExpr: "0 9 1,15 * *",
			wantZone: "UTC+05:30",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Build(model.Reminder{At: tt.at}, tt.schedule, now)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if spec.Kind != Repeating {
				t.Fatalf("kind = %v, want Repeating", spec.Kind)
			}
			if got := spec.Expr.String(); got != tt.wantExpr {
				t.Fatalf("expr = %q, want %q", got, tt.wantExpr)
			}
			if got := spec.Loc.String(); got != tt.wantZone {
				t.Fatalf("zone = %q, want %q", got, tt.wantZone)
			}
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := model.Reminder{At: "2024-01-01T08:30:00+02:00"}
	s := model.Schedule{
		Type:         model.Weekly,
		ScheduleDays: []model.Weekday{model.Tuesday, model.Saturday},
	}
	first, err := Build(r, s, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Build(r, s, now)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if again.Expr.String() != first.Expr.String() || again.Loc.String() != first.Loc.String() {
			t.Fatalf("non-deterministic build: %q/%q vs %q/%q",
				again.Expr, again.Loc, first.Expr, first.Loc)
		}
	}
}

func TestBuildOneShotDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   string
		want time.Duration
	}{
		{name: "future fires at the gap", at: "2024-05-10T09:00:00Z", want: 2 * time.Hour},
		{name: "past clamps to a second", at: "2024-05-10T06:00:00Z", want: time.Second},
		{name: "exactly now clamps to a second", at: "2024-05-10T07:00:00Z", want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Build(model.Reminder{At: tt.at}, model.Schedule{Type: model.OneTime}, now)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if spec.Kind != OneShot {
				t.Fatalf("kind = %v, want OneShot", spec.Kind)
			}
			if spec.Delay != tt.want {
				t.Fatalf("delay = %v, want %v", spec.Delay, tt.want)
			}
		})
	}
}

func TestBuildNoneCases(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name     string
		schedule model.Schedule
	}{
		{name: "weekly without days", schedule: model.Schedule{Type: model.Weekly}},
		{name: "monthly without days", schedule: model.Schedule{Type: model.Monthly}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Build(model.Reminder{At: "2024-01-01T08:00:00Z"}, tt.schedule, now)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if spec.Kind != None {
				t.Fatalf("kind = %v, want None", spec.Kind)
			}
			if spec.Reason == "" {
				t.Fatal("expected a reason for the None spec")
			}
		})
	}
}

func TestBuildRejectsBadTime(t *testing.T) {
	t.Parallel()
	_, err := Build(model.Reminder{At: "8:30 am"}, model.Schedule{Type: model.Daily}, time.Now())
	if err == nil {
		t.Fatal("expected error for a non-RFC3339 reminder time")
	}
}

func TestZoneOffsetRoundTrip(t *testing.T) {
	t.Parallel()
	for _, seconds := range []int{0, 2 * 3600, -5 * 3600, 5*3600 + 30*60} {
		loc := ZoneFromOffset(seconds)
		if got := OffsetSeconds(loc); got != seconds {
			t.Fatalf("offset round trip: got %d, want %d", got, seconds)
		}
	}
}
