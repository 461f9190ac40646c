package device

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newHistory(t *testing.T, class Class) (*SQLiteHistoryRepository, *SQLiteCatalog) {
	t.Helper()

	db := setupTestDB(t)
	repo, err := NewSQLiteHistoryRepository(db, class)
	if err != nil {
		t.Fatalf("NewSQLiteHistoryRepository() error = %v", err)
	}
	catalog := NewGRDCatalog(db)
	if class == ClassRelay {
		catalog = NewRelayCatalog(db)
	}
	return repo, catalog
}

func mustAppend(t *testing.T, repo *SQLiteHistoryRepository, id int, ts time.Time, connected bool) {
	t.Helper()
	if err := repo.AppendSample(context.Background(), id, ts, connected); err != nil {
		t.Fatalf("AppendSample(%d, %v) error = %v", id, ts, err)
	}
}

func TestNewSQLiteHistoryRepository_InvalidClass(t *testing.T) {
	_, err := NewSQLiteHistoryRepository(nil, Class("plc"))
	if !errors.Is(err, ErrInvalidClass) {
		t.Errorf("error = %v, want ErrInvalidClass", err)
	}
}

func TestHistory_LatestAndBefore(t *testing.T) {
	repo, _ := newHistory(t, ClassGRD)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, ok, err := repo.LatestState(ctx, 5); err != nil || ok {
		t.Fatalf("LatestState() on empty = ok %v err %v, want absent", ok, err)
	}

	mustAppend(t, repo, 5, base, false)
	mustAppend(t, repo, 5, base.Add(time.Hour), true)

	connected, ok, err := repo.LatestState(ctx, 5)
	if err != nil || !ok || !connected {
		t.Errorf("LatestState() = %v %v %v, want connected", connected, ok, err)
	}

	tests := []struct {
		name          string
		at            time.Time
		wantConnected bool
		wantOK        bool
	}{
		{"before first sample", base.Add(-time.Second), false, false},
		{"exactly at first sample is strict", base, false, false},
		{"between samples", base.Add(30 * time.Minute), false, true},
		{"exactly at second sample", base.Add(time.Hour), false, true},
		{"after second sample", base.Add(2 * time.Hour), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connected, ok, err := repo.StateBefore(ctx, 5, tt.at)
			if err != nil {
				t.Fatalf("StateBefore() error = %v", err)
			}
			if ok != tt.wantOK || connected != tt.wantConnected {
				t.Errorf("StateBefore() = (%v, %v), want (%v, %v)", connected, ok, tt.wantConnected, tt.wantOK)
			}
		})
	}
}

func TestHistory_SeriesBoundsAndOrder(t *testing.T) {
	repo, _ := newHistory(t, ClassGRD)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 8, 23, 59, 59, 999999000, time.UTC)

	mustAppend(t, repo, 5, start.Add(-time.Microsecond), true)
	mustAppend(t, repo, 5, start, false)
	mustAppend(t, repo, 5, start.Add(48*time.Hour), true)
	mustAppend(t, repo, 5, end, false)
	mustAppend(t, repo, 5, end.Add(time.Microsecond), true)
	mustAppend(t, repo, 6, start.Add(time.Hour), true)

	series, err := repo.Series(ctx, 5, start, end)
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("len(Series()) = %d, want 3", len(series))
	}
	if !series[0].Timestamp.Equal(start) || !series[2].Timestamp.Equal(end) {
		t.Errorf("Series() bounds = %v..%v", series[0].Timestamp, series[2].Timestamp)
	}
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp.Before(series[i-1].Timestamp) {
			t.Errorf("Series() not ascending at %d", i)
		}
	}

	all, err := repo.AllSeries(ctx, 5)
	if err != nil {
		t.Fatalf("AllSeries() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("len(AllSeries()) = %d, want 5", len(all))
	}
}

func TestHistory_ClassesArePartitioned(t *testing.T) {
	db := setupTestDB(t)
	grd, _ := NewSQLiteHistoryRepository(db, ClassGRD)     //nolint:errcheck // Known class
	relay, _ := NewSQLiteHistoryRepository(db, ClassRelay) //nolint:errcheck // Known class
	ctx := context.Background()
	now := time.Now().UTC()

	mustAppend(t, grd, 3, now, true)
	mustAppend(t, relay, 3, now, false)

	grdState, _, _ := grd.LatestState(ctx, 3)     //nolint:errcheck // Asserted below
	relayState, _, _ := relay.LatestState(ctx, 3) //nolint:errcheck // Asserted below
	if !grdState || relayState {
		t.Errorf("grd=%v relay=%v, want true/false", grdState, relayState)
	}
}

func TestHistory_TotalPeriods(t *testing.T) {
	repo, _ := newHistory(t, ClassGRD)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	total, err := repo.TotalPeriods(ctx, 5, PeriodWeek, now)
	if err != nil || total != 0 {
		t.Fatalf("TotalPeriods() on empty = %d, %v, want 0", total, err)
	}

	mustAppend(t, repo, 5, time.Date(2026, 1, 25, 8, 0, 0, 0, time.UTC), false)

	weeks, err := repo.TotalPeriods(ctx, 5, PeriodWeek, now)
	if err != nil {
		t.Fatalf("TotalPeriods(week) error = %v", err)
	}
	// 54 full days back: 7 full weeks plus the current one.
	if weeks != 8 {
		t.Errorf("TotalPeriods(week) = %d, want 8", weeks)
	}

	months, err := repo.TotalPeriods(ctx, 5, PeriodMonth, now)
	if err != nil {
		t.Fatalf("TotalPeriods(month) error = %v", err)
	}
	if months != 3 {
		t.Errorf("TotalPeriods(month) = %d, want 3", months)
	}
}

func TestPeriodsBetween(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		first  time.Time
		period Period
		want   int
	}{
		{"same instant", now, PeriodWeek, 1},
		{"future sample", now.Add(time.Hour), PeriodMonth, 1},
		{"six days", now.AddDate(0, 0, -6), PeriodWeek, 1},
		{"seven days", now.AddDate(0, 0, -7), PeriodWeek, 2},
		{"across year", time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), PeriodMonth, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := periodsBetween(tt.first, now, tt.period); got != tt.want {
				t.Errorf("periodsBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestPeriodsBetween_CalendarDays checks week buckets count calendar days, so
// a late first sample and an early now still reach the page holding it.
func TestPeriodsBetween_CalendarDays(t *testing.T) {
	now := time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		first time.Time
		want  int
	}{
		{"late sample seven days back", time.Date(2025, 12, 29, 23, 0, 0, 0, time.UTC), 2},
		{"late sample six days back", time.Date(2025, 12, 30, 23, 59, 0, 0, time.UTC), 1},
		{"earlier same day", time.Date(2026, 1, 5, 0, 30, 0, 0, time.UTC), 1},
		{"fourteen days back", time.Date(2025, 12, 22, 22, 0, 0, 0, time.UTC), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := periodsBetween(tt.first, now, PeriodWeek); got != tt.want {
				t.Errorf("periodsBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHistory_LatestStatesAndDisconnected(t *testing.T) {
	repo, catalog := newHistory(t, ClassGRD)
	ctx := context.Background()
	if _, err := catalog.Seed(ctx, map[int]string{1: "uno", 2: "dos"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mustAppend(t, repo, 1, base, false)
	mustAppend(t, repo, 1, base.Add(time.Hour), true)
	mustAppend(t, repo, 2, base, true)
	mustAppend(t, repo, 2, base.Add(2*time.Hour), false)
	mustAppend(t, repo, 17, base, false) // not in catalog

	states, err := repo.LatestStates(ctx)
	if err != nil {
		t.Fatalf("LatestStates() error = %v", err)
	}
	if len(states) != 3 || !states[1] || states[2] || states[17] {
		t.Errorf("LatestStates() = %v", states)
	}

	down, err := repo.AllDisconnected(ctx)
	if err != nil {
		t.Fatalf("AllDisconnected() error = %v", err)
	}
	if len(down) != 2 {
		t.Fatalf("len(AllDisconnected()) = %d, want 2", len(down))
	}
	if down[0].DeviceID != 2 || down[0].Description != "dos" || !down[0].LastDisconnected.Equal(base.Add(2*time.Hour)) {
		t.Errorf("AllDisconnected()[0] = %+v", down[0])
	}
	if down[1].DeviceID != 17 || down[1].Description != "" {
		t.Errorf("AllDisconnected()[1] = %+v", down[1])
	}
}

func TestSample_MarshalJSON(t *testing.T) {
	s := Sample{
		DeviceID:  5,
		Timestamp: time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.FixedZone("ART", -3*3600)),
		Connected: true,
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"timestamp":"2026-03-01T15:30:00.123456Z"`) {
		t.Errorf("Marshal() = %s, want UTC timestamp with Z", raw)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-03-01T15:30:00.123456Z", time.Date(2026, 3, 1, 15, 30, 0, 123456000, time.UTC), false},
		{"2026-03-01T15:30:00Z", time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC), false},
		{"2026-03-01 15:30", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}
