package ordersync

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation(time.DateTime, raw, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return v
}

func TestNormalizeRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 500, time.UTC)

	tests := []struct {
		name      string
		raw       domain.RangeFilter
		wantField domain.RangeField
		wantFrom  string
		wantTo    string
	}{
		{
			name:      "both bounds given",
			raw:       domain.RangeFilter{Field: domain.FieldCreatedAt, From: "2024-03-01 00:00:00", To: "2024-03-02 00:00:00"},
			wantField: domain.FieldCreatedAt,
			wantFrom:  "2024-03-01 00:00:00",
			wantTo:    "2024-03-02 00:00:00",
		},
		{
			name:      "empty bounds fall back to lookback",
			raw:       domain.RangeFilter{},
			wantField: domain.FieldUpdatedAt,
			wantFrom:  "2024-03-09 12:00:00",
			wantTo:    "2024-03-10 12:00:00",
		},
		{
			name:      "invalid to becomes now",
			raw:       domain.RangeFilter{From: "2024-03-10 06:00:00", To: "yesterday"},
			wantField: domain.FieldUpdatedAt,
			wantFrom:  "2024-03-10 06:00:00",
			wantTo:    "2024-03-10 12:00:00",
		},
		{
			name:     "from after to is pulled back",
			raw:      domain.RangeFilter{From: "2024-03-05 00:00:00", To: "2024-03-04 00:00:00"},
			wantFrom: "2024-03-03 00:00:00",
			wantTo:   "2024-03-04 00:00:00",
		},
		{
			name:     "date only and rfc3339",
			raw:      domain.RangeFilter{From: "2024-03-01", To: "2024-03-01T08:30:00Z"},
			wantFrom: "2024-03-01 00:00:00",
			wantTo:   "2024-03-01 08:30:00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeRange(now, 24*time.Hour, tt.raw, time.UTC)
			if tt.wantField != "" && got.Field != tt.wantField {
				t.Errorf("field = %s, want %s", got.Field, tt.wantField)
			}
			if !got.From.Equal(mustTime(t, tt.wantFrom)) {
				t.Errorf("from = %s, want %s", got.From.Format(time.DateTime), tt.wantFrom)
			}
			if !got.To.Equal(mustTime(t, tt.wantTo)) {
				t.Errorf("to = %s, want %s", got.To.Format(time.DateTime), tt.wantTo)
			}
		})
	}
}

func TestNormalizeRangeUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	got := NormalizeRange(time.Now(), time.Hour, domain.RangeFilter{From: "2024-03-01 10:00:00", To: "2024-03-01 11:00:00"}, loc)

	if got.From.UTC().Hour() != 13 {
		t.Fatalf("from should be parsed in shop location, got %s", got.From.UTC())
	}
}

func TestSplitWindows(t *testing.T) {
	r := domain.SyncRange{
		Field: domain.FieldUpdatedAt,
		From:  mustTime(t, "2024-03-10 00:00:00"),
		To:    mustTime(t, "2024-03-10 13:00:00"),
	}

	windows := SplitWindows(r, 6*time.Hour)
	want := [][2]string{
		{"2024-03-10 00:00:00", "2024-03-10 05:59:59"},
		{"2024-03-10 06:00:00", "2024-03-10 11:59:59"},
		{"2024-03-10 12:00:00", "2024-03-10 13:00:00"},
	}
	if len(windows) != len(want) {
		t.Fatalf("expected %d windows, got %d", len(want), len(windows))
	}
	for i, w := range windows {
		if w.From.Format(time.DateTime) != want[i][0] || w.To.Format(time.DateTime) != want[i][1] {
			t.Errorf("window %d = [%s, %s], want %v", i, w.From.Format(time.DateTime), w.To.Format(time.DateTime), want[i])
		}
		if w.Field != domain.FieldUpdatedAt {
			t.Errorf("window %d lost field: %s", i, w.Field)
		}
		if i > 0 && !w.From.Equal(windows[i-1].To.Add(time.Second)) {
			t.Errorf("window %d is not contiguous with previous", i)
		}
	}
}

func TestSplitWindowsEdgeCases(t *testing.T) {
	at := mustTime(t, "2024-03-10 00:00:00")

	single := SplitWindows(domain.SyncRange{From: at, To: at}, time.Hour)
	if len(single) != 1 || !single[0].From.Equal(at) || !single[0].To.Equal(at) {
		t.Fatalf("zero-length range must produce one window, got %+v", single)
	}

	if got := SplitWindows(domain.SyncRange{From: at.Add(time.Hour), To: at}, time.Hour); len(got) != 0 {
		t.Fatalf("inverted range must produce no windows, got %d", len(got))
	}

	exact := SplitWindows(domain.SyncRange{From: at, To: at.Add(2*time.Hour - time.Second)}, time.Hour)
	if len(exact) != 2 {
		t.Fatalf("range of two full windows must split in two, got %d", len(exact))
	}
}
