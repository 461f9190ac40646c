package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/database"
	_ "github.com/nerrad567/modbus-mw/migrations"
)

// Wednesday afternoon.
var testNow = time.Date(2026, 3, 18, 15, 30, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	history *device.SQLiteHistoryRepository
	catalog *device.SQLiteCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx))

	return newFixtureOn(t, db.DB)
}

func newFixtureOn(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	catalog := device.NewGRDCatalog(db)
	_, err := catalog.Seed(context.Background(), map[int]string{5: "Subestación Norte", 6: "Sin datos"})
	require.NoError(t, err)

	repo, err := device.NewSQLiteHistoryRepository(db, device.ClassGRD)
	require.NoError(t, err)

	engine := NewEngine(catalog, repo)
	engine.now = func() time.Time { return testNow }
	return &fixture{engine: engine, history: repo, catalog: catalog}
}

func (f *fixture) append(t *testing.T, id int, ts time.Time, connected bool) {
	t.Helper()
	require.NoError(t, f.history.AppendSample(context.Background(), id, ts, connected))
}

func TestWeekRange(t *testing.T) {
	for page := 0; page < 60; page++ {
		start, end := WeekRange(testNow, page)

		assert.Equal(t, 7*24*time.Hour-time.Microsecond, end.Sub(start), "page %d width", page)
		assert.Equal(t, 0, start.Hour()+start.Minute()+start.Second()+start.Nanosecond(), "page %d start at midnight", page)
		assert.Equal(t, 23, end.Hour())
		assert.Equal(t, 59, end.Minute())
		assert.Equal(t, 59, end.Second())
		assert.Equal(t, 999999000, end.Nanosecond())

		nextStart, nextEnd := WeekRange(testNow, page+1)
		assert.Equal(t, 7*24*time.Hour, start.Sub(nextStart), "page %d shift", page)
		assert.Equal(t, 7*24*time.Hour, end.Sub(nextEnd), "page %d shift", page)
	}

	start, end := WeekRange(testNow, 0)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 18, 23, 59, 59, 999999000, time.UTC), end)
}

func TestMonthRange(t *testing.T) {
	tests := []struct {
		page      int
		wantStart time.Time
	}{
		{0, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{1, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{3, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
		{14, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{-4, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		start, end := MonthRange(testNow, tt.page)
		assert.Equal(t, tt.wantStart, start, "page %d", tt.page)
		assert.Equal(t, start.AddDate(0, 1, 0), end.Add(time.Microsecond), "page %d end", tt.page)
		assert.Equal(t, start.Month(), end.Month(), "page %d stays in month", tt.page)
	}

	// February of a non-leap year.
	start, end := MonthRange(testNow, 1)
	assert.Equal(t, time.Date(2026, 2, 28, 23, 59, 59, 999999000, time.UTC), end)
	assert.Equal(t, 28*24*time.Hour-time.Microsecond, end.Sub(start))
}

func TestParseWindow(t *testing.T) {
	tests := map[string]Window{
		"1sem":  WindowWeek,
		"week":  WindowWeek,
		"1mes":  WindowMonth,
		"month": WindowMonth,
		"MONTH": WindowMonth,
		"todo":  WindowAll,
		"all":   WindowAll,
		"":      WindowWeek,
		"1año":  WindowWeek,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseWindow(in), "ParseWindow(%q)", in)
	}
}

func TestQuery_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Query(context.Background(), 99, WindowWeek, 0)
	assert.True(t, errors.Is(err, device.ErrDeviceNotFound), "error = %v", err)
}

func TestQuery_NoHistory(t *testing.T) {
	f := newFixture(t)

	for _, w := range []Window{WindowWeek, WindowMonth} {
		p, err := f.engine.Query(context.Background(), 6, w, 0)
		require.NoError(t, err)
		assert.Empty(t, p.Samples)
		assert.GreaterOrEqual(t, p.TotalPeriods, 1)
		assert.False(t, p.ConnectedBefore)
	}

	p, err := f.engine.Query(context.Background(), 6, WindowAll, 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(-30*24*time.Hour), p.RangeStart)
	assert.Equal(t, testNow, p.RangeEnd)
	assert.Equal(t, 1, p.TotalPeriods)
}

func TestQuery_WeekPageWithLookback(t *testing.T) {
	f := newFixture(t)
	f.append(t, 5, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), true)
	f.append(t, 5, time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC), false)
	f.append(t, 5, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC), true)
	f.append(t, 5, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), false)

	p, err := f.engine.Query(context.Background(), 5, ParseWindow("1sem"), 1)
	require.NoError(t, err)

	assert.Equal(t, WindowWeek, p.Window)
	assert.Equal(t, "Subestación Norte", p.Description)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), p.RangeStart)
	require.Len(t, p.Samples, 2)
	assert.False(t, p.Samples[0].Connected)
	assert.True(t, p.Samples[1].Connected)
	assert.True(t, p.Samples[0].Timestamp.Before(p.Samples[1].Timestamp))
	assert.True(t, p.ConnectedBefore, "state entering the window comes from Mar 3")
	assert.Equal(t, 3, p.TotalPeriods)

	// The current week only sees the Mar 15 sample and inherits Mar 9.
	cur, err := f.engine.Query(context.Background(), 5, WindowWeek, 0)
	require.NoError(t, err)
	require.Len(t, cur.Samples, 1)
	assert.True(t, cur.ConnectedBefore)
}

func TestQuery_OldestWeekPageIsCounted(t *testing.T) {
	f := newFixture(t)
	earlyNow := time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return earlyNow }
	f.append(t, 5, time.Date(2025, 12, 29, 23, 0, 0, 0, time.UTC), true)

	first, err := f.engine.Query(context.Background(), 5, WindowWeek, 0)
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalPeriods)

	last, err := f.engine.Query(context.Background(), 5, WindowWeek, first.TotalPeriods-1)
	require.NoError(t, err)
	require.Len(t, last.Samples, 1, "oldest sample must sit on the last reported page")
}

func TestQuery_LookbackIsStrictlyBefore(t *testing.T) {
	f := newFixture(t)
	start, _ := WeekRange(testNow, 0)
	f.append(t, 5, start.Add(-time.Microsecond), false)
	f.append(t, 5, start, true)

	p, err := f.engine.Query(context.Background(), 5, WindowWeek, 0)
	require.NoError(t, err)
	assert.False(t, p.ConnectedBefore)
	require.Len(t, p.Samples, 1)
	assert.True(t, p.Samples[0].Connected)
}

func TestQuery_MonthAndAll(t *testing.T) {
	f := newFixture(t)
	f.append(t, 5, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), false)
	f.append(t, 5, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), true)
	f.append(t, 5, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), false)

	p, err := f.engine.Query(context.Background(), 5, WindowMonth, 1)
	require.NoError(t, err)
	require.Len(t, p.Samples, 1)
	assert.False(t, p.ConnectedBefore)
	assert.Equal(t, 3, p.TotalPeriods)

	all, err := f.engine.Query(context.Background(), 5, ParseWindow("todo"), 7)
	require.NoError(t, err)
	assert.Len(t, all.Samples, 3)
	assert.Equal(t, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), all.RangeStart)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), all.RangeEnd)
	assert.Equal(t, 1, all.TotalPeriods)
	assert.False(t, all.ConnectedBefore)
}

func TestQuery_NegativePageAndUnknownWindow(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.Query(context.Background(), 5, Window("yearly"), -3)
	require.NoError(t, err)
	assert.Equal(t, WindowWeek, p.Window)
	assert.Equal(t, 0, p.Page)
	wantStart, wantEnd := WeekRange(testNow, 0)
	assert.Equal(t, wantStart, p.RangeStart)
	assert.Equal(t, wantEnd, p.RangeEnd)
}

func TestQuery_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.append(t, 5, time.Date(2026, 3, 13, 1, 0, 0, 0, time.UTC), true)

	first, err := f.engine.Query(context.Background(), 5, WindowWeek, 0)
	require.NoError(t, err)
	second, err := f.engine.Query(context.Background(), 5, WindowWeek, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestPayload_JSON(t *testing.T) {
	p := Payload{
		DeviceID:     5,
		Description:  "Norte",
		Window:       WindowWeek,
		TotalPeriods: 1,
		RangeStart:   time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		RangeEnd:     time.Date(2026, 3, 18, 23, 59, 59, 999999000, time.UTC),
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"device_id": 5,
		"description": "Norte",
		"window": "week",
		"page": 0,
		"total_periods": 1,
		"range_start": "2026-03-12T00:00:00.000000Z",
		"range_end": "2026-03-18T23:59:59.999999Z",
		"connected_before": false,
		"samples": []
	}`, string(raw))
}
