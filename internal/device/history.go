package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const hoursPerDay = 24

// HistoryRepository stores connectivity transitions for one device class.
//
// Implementations must be thread-safe and use UTC timestamps. Both monitor
// loops write through their own repository while API handlers read.
type HistoryRepository interface {
	// AppendSample records a transition. Failures wrap ErrStorageWrite.
	AppendSample(ctx context.Context, deviceID int, ts time.Time, connected bool) error

	// LatestState returns the most recent recorded state; ok is false
	// when the device has no samples.
	LatestState(ctx context.Context, deviceID int) (connected, ok bool, err error)

	// Series returns samples with start <= timestamp <= end, oldest first.
	Series(ctx context.Context, deviceID int, start, end time.Time) ([]Sample, error)

	// AllSeries returns every sample of the device, oldest first.
	AllSeries(ctx context.Context, deviceID int) ([]Sample, error)

	// TotalPeriods counts the week or month buckets between the earliest
	// sample and now, inclusive. Zero when the device has no samples.
	TotalPeriods(ctx context.Context, deviceID int, period Period, now time.Time) (int, error)

	// StateBefore returns the state of the last sample strictly before ts.
	StateBefore(ctx context.Context, deviceID int, ts time.Time) (connected, ok bool, err error)

	// LatestStates returns the latest state of every device with history.
	LatestStates(ctx context.Context) (map[int]bool, error)

	// AllDisconnected lists devices whose latest sample is disconnected.
	AllDisconnected(ctx context.Context) ([]DisconnectedDevice, error)
}

// SQLiteHistoryRepository implements HistoryRepository on the
// connectivity_history table, scoped to one device class.
type SQLiteHistoryRepository struct {
	db          *sql.DB
	class       Class
	catalogJoin string
}

// NewSQLiteHistoryRepository creates a history repository for class.
func NewSQLiteHistoryRepository(db *sql.DB, class Class) (*SQLiteHistoryRepository, error) {
	var join string
	switch class {
	case ClassGRD:
		join = "LEFT JOIN grd c ON c.id = h.device_id"
	case ClassRelay:
		join = "LEFT JOIN reles c ON c.id_modbus = h.device_id"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	return &SQLiteHistoryRepository{db: db, class: class, catalogJoin: join}, nil
}

// AppendSample inserts a transition row.
func (r *SQLiteHistoryRepository) AppendSample(ctx context.Context, deviceID int, ts time.Time, connected bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connectivity_history (device_class, device_id, timestamp, connected)
		 VALUES (?, ?, ?, ?)`,
		string(r.class), deviceID, FormatTimestamp(ts), boolToInt(connected),
	)
	if err != nil {
		return fmt.Errorf("%w: %s %d: %v", ErrStorageWrite, r.class, deviceID, err)
	}
	return nil
}

// LatestState returns the newest recorded state of the device.
func (r *SQLiteHistoryRepository) LatestState(ctx context.Context, deviceID int) (bool, bool, error) {
	return r.scanState(ctx,
		`SELECT connected FROM connectivity_history
		 WHERE device_class = ? AND device_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		string(r.class), deviceID,
	)
}

// StateBefore returns the state of the last sample strictly before ts.
func (r *SQLiteHistoryRepository) StateBefore(ctx context.Context, deviceID int, ts time.Time) (bool, bool, error) {
	return r.scanState(ctx,
		`SELECT connected FROM connectivity_history
		 WHERE device_class = ? AND device_id = ? AND timestamp < ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		string(r.class), deviceID, FormatTimestamp(ts),
	)
}

func (r *SQLiteHistoryRepository) scanState(ctx context.Context, query string, args ...any) (bool, bool, error) {
	var connected int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&connected)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("querying %s state: %w", r.class, err)
	}
	return connected == 1, true, nil
}

// Series returns the samples inside [start, end] in storage order.
func (r *SQLiteHistoryRepository) Series(ctx context.Context, deviceID int, start, end time.Time) ([]Sample, error) {
	return r.querySamples(ctx,
		`SELECT device_id, timestamp, connected FROM connectivity_history
		 WHERE device_class = ? AND device_id = ? AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp, id`,
		string(r.class), deviceID, FormatTimestamp(start), FormatTimestamp(end),
	)
}

// AllSeries returns the full history of the device.
func (r *SQLiteHistoryRepository) AllSeries(ctx context.Context, deviceID int) ([]Sample, error) {
	return r.querySamples(ctx,
		`SELECT device_id, timestamp, connected FROM connectivity_history
		 WHERE device_class = ? AND device_id = ?
		 ORDER BY timestamp, id`,
		string(r.class), deviceID,
	)
}

func (r *SQLiteHistoryRepository) querySamples(ctx context.Context, query string, args ...any) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s series: %w", r.class, err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			s         Sample
			timestamp string
			connected int
		)
		if err := rows.Scan(&s.DeviceID, &timestamp, &connected); err != nil {
			return nil, fmt.Errorf("scanning %s series: %w", r.class, err)
		}
		if s.Timestamp, err = ParseTimestamp(timestamp); err != nil {
			return nil, err
		}
		s.Connected = connected == 1
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s series: %w", r.class, err)
	}
	return samples, nil
}

// TotalPeriods counts week or month buckets from the earliest sample to now.
func (r *SQLiteHistoryRepository) TotalPeriods(ctx context.Context, deviceID int, period Period, now time.Time) (int, error) {
	var earliest sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp) FROM connectivity_history
		 WHERE device_class = ? AND device_id = ?`,
		string(r.class), deviceID,
	).Scan(&earliest)
	if err != nil {
		return 0, fmt.Errorf("querying %s earliest sample: %w", r.class, err)
	}
	if !earliest.Valid {
		return 0, nil
	}

	first, err := ParseTimestamp(earliest.String)
	if err != nil {
		return 0, err
	}
	return periodsBetween(first, now.UTC(), period), nil
}

// periodsBetween returns how many buckets of period the span first..now
// touches. A first instant after now counts as one bucket.
func periodsBetween(first, now time.Time, period Period) int {
	if !first.Before(now) {
		return 1
	}
	if period == PeriodMonth {
		return (now.Year()-first.Year())*12 + int(now.Month()-first.Month()) + 1
	}
	days := int(midnightUTC(now).Sub(midnightUTC(first)).Hours() / hoursPerDay)
	return days/7 + 1
}

// midnightUTC truncates t to the start of its UTC calendar day.
func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LatestStates returns the newest state per device of this class.
func (r *SQLiteHistoryRepository) LatestStates(ctx context.Context) (map[int]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT h.device_id, h.connected
		FROM connectivity_history h
		JOIN (
			SELECT device_id, MAX(id) AS max_id
			FROM connectivity_history
			WHERE device_class = ?
			GROUP BY device_id
		) latest ON latest.max_id = h.id
		ORDER BY h.device_id`,
		string(r.class),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s latest states: %w", r.class, err)
	}
	defer rows.Close()

	states := make(map[int]bool)
	for rows.Next() {
		var id, connected int
		if err := rows.Scan(&id, &connected); err != nil {
			return nil, fmt.Errorf("scanning %s latest states: %w", r.class, err)
		}
		states[id] = connected == 1
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s latest states: %w", r.class, err)
	}
	return states, nil
}

// AllDisconnected lists devices whose latest sample is disconnected, with
// the catalog description and the instant they dropped.
func (r *SQLiteHistoryRepository) AllDisconnected(ctx context.Context) ([]DisconnectedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT h.device_id, COALESCE(c.description, ''), h.timestamp
		FROM connectivity_history h
		JOIN (
			SELECT device_id, MAX(id) AS max_id
			FROM connectivity_history
			WHERE device_class = ?
			GROUP BY device_id
		) latest ON latest.max_id = h.id
		`+r.catalogJoin+`
		WHERE h.connected = 0
		ORDER BY h.device_id`,
		string(r.class),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s disconnected: %w", r.class, err)
	}
	defer rows.Close()

	out := make([]DisconnectedDevice, 0)
	for rows.Next() {
		var (
			d         DisconnectedDevice
			timestamp string
		)
		if err := rows.Scan(&d.DeviceID, &d.Description, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning %s disconnected: %w", r.class, err)
		}
		if d.LastDisconnected, err = ParseTimestamp(timestamp); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s disconnected: %w", r.class, err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
