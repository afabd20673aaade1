package schedule

import (
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{name: "seconds", raw: "1500", kind: KindInterval, source: "seconds", every: 1500 * time.Second},
		{name: "fractional seconds", raw: "0.5", kind: KindInterval, source: "seconds", every: 500 * time.Millisecond},
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron"},
		{name: "duration", raw: "25m", kind: KindInterval, source: "duration", every: 25 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: KindInterval, source: "duration", every: 45 * time.Second},
		{name: "hhmm", raw: "00:25", kind: KindInterval, source: "hhmm", every: 25 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "0", "-5", "cron:", "61 * * * * * *", "01:75"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
}

func TestCadenceInterval(t *testing.T) {
	c, err := New("90", time.UTC)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got := c.Wait(now); got != 90*time.Second {
		t.Fatalf("Wait = %v, want 90s", got)
	}
}

func TestCadenceCron(t *testing.T) {
	c, err := New("*/30 * * * *", time.UTC)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	now := time.Date(2024, 5, 1, 10, 10, 0, 500, time.UTC)
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if got := c.Next(now); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	// rounded up to whole seconds
	if got := c.Wait(now); got != 20*time.Minute {
		t.Fatalf("Wait = %v, want 20m", got)
	}
}

func TestMustEveryClamps(t *testing.T) {
	if got := MustEvery(0).Spec().Every; got != time.Second {
		t.Fatalf("Every = %v, want 1s", got)
	}
}
