package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FaultRepository stores relay fault details keyed by internal relay id.
type FaultRepository interface {
	RecordFault(ctx context.Context, relayID int64, ts time.Time, detail string) error

	// LatestFault returns nil when the relay has no recorded fault.
	LatestFault(ctx context.Context, relayID int64) (*Fault, error)
}

// SQLiteFaultRepository implements FaultRepository on fallas_reles.
type SQLiteFaultRepository struct {
	db *sql.DB
}

// NewSQLiteFaultRepository creates a fault repository.
func NewSQLiteFaultRepository(db *sql.DB) *SQLiteFaultRepository {
	return &SQLiteFaultRepository{db: db}
}

// RecordFault appends a fault row.
func (r *SQLiteFaultRepository) RecordFault(ctx context.Context, relayID int64, ts time.Time, detail string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO fallas_reles (id_rele, timestamp, detail) VALUES (?, ?, ?)",
		relayID, FormatTimestamp(ts), detail,
	)
	if err != nil {
		return fmt.Errorf("%w: fault for relay %d: %v", ErrStorageWrite, relayID, err)
	}
	return nil
}

// LatestFault returns the most recent fault of the relay by timestamp.
func (r *SQLiteFaultRepository) LatestFault(ctx context.Context, relayID int64) (*Fault, error) {
	var (
		f         = Fault{RelayID: relayID}
		timestamp string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT timestamp, detail FROM fallas_reles
		 WHERE id_rele = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		relayID,
	).Scan(&timestamp, &f.Detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest fault of relay %d: %w", relayID, err)
	}
	if f.Timestamp, err = ParseTimestamp(timestamp); err != nil {
		return nil, err
	}
	return &f, nil
}
