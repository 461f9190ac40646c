package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// notApplicablePrefix marks relay catalog entries that exist on the wire
// but are not monitored.
const notApplicablePrefix = "NO APLICA"

// Catalog resolves device descriptions for one device class.
type Catalog interface {
	// Description returns ErrDeviceNotFound if id is not in the catalog.
	Description(ctx context.Context, id int) (string, error)

	// All returns every device keyed by id.
	All(ctx context.Context) (map[int]string, error)

	// List returns every device ordered by id.
	List(ctx context.Context) ([]Device, error)
}

// catalogQueries holds the per-class SQL. The GRD table is keyed by the
// device id; the relay table keys the modbus unit id separately from its
// internal autoincrement id.
type catalogQueries struct {
	upsert      string
	description string
	list        string
	internalID  string
}

var grdCatalogQueries = catalogQueries{
	upsert: `INSERT INTO grd (id, description) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET description = excluded.description`,
	description: "SELECT description FROM grd WHERE id = ?",
	list:        "SELECT id, description FROM grd ORDER BY id",
	internalID:  "SELECT id FROM grd WHERE id = ?",
}

var relayCatalogQueries = catalogQueries{
	upsert: `INSERT INTO reles (id_modbus, description) VALUES (?, ?)
		ON CONFLICT(id_modbus) DO UPDATE SET description = excluded.description`,
	description: "SELECT description FROM reles WHERE id_modbus = ?",
	list:        "SELECT id_modbus, description FROM reles ORDER BY id_modbus",
	internalID:  "SELECT id FROM reles WHERE id_modbus = ?",
}

// SQLiteCatalog implements Catalog for one device class.
type SQLiteCatalog struct {
	db      *sql.DB
	class   Class
	queries catalogQueries
}

// NewGRDCatalog returns the GRD catalog backed by the grd table.
func NewGRDCatalog(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db, class: ClassGRD, queries: grdCatalogQueries}
}

// NewRelayCatalog returns the relay catalog backed by the reles table.
func NewRelayCatalog(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db, class: ClassRelay, queries: relayCatalogQueries}
}

// Class returns the device class this catalog serves.
func (c *SQLiteCatalog) Class() Class {
	return c.class
}

// Upsert inserts the device or replaces its description.
func (c *SQLiteCatalog) Upsert(ctx context.Context, id int, description string) error {
	if _, err := c.db.ExecContext(ctx, c.queries.upsert, id, description); err != nil {
		return fmt.Errorf("%w: upserting %s %d: %v", ErrStorageWrite, c.class, id, err)
	}
	return nil
}

// Description returns the description of device id.
func (c *SQLiteCatalog) Description(ctx context.Context, id int) (string, error) {
	var description string
	err := c.db.QueryRowContext(ctx, c.queries.description, id).Scan(&description)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying %s %d: %w", c.class, id, err)
	}
	return description, nil
}

// All returns every device keyed by id.
func (c *SQLiteCatalog) All(ctx context.Context) (map[int]string, error) {
	devices, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(devices))
	for _, d := range devices {
		out[d.ID] = d.Description
	}
	return out, nil
}

// List returns every device ordered by id.
func (c *SQLiteCatalog) List(ctx context.Context) ([]Device, error) {
	rows, err := c.db.QueryContext(ctx, c.queries.list)
	if err != nil {
		return nil, fmt.Errorf("listing %s catalog: %w", c.class, err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Description); err != nil {
			return nil, fmt.Errorf("scanning %s catalog: %w", c.class, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s catalog: %w", c.class, err)
	}
	return devices, nil
}

// InternalID maps an external device id to its internal row id. For GRDs
// the two are the same.
func (c *SQLiteCatalog) InternalID(ctx context.Context, id int) (int64, error) {
	var internal int64
	err := c.db.QueryRowContext(ctx, c.queries.internalID, id).Scan(&internal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDeviceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolving internal id of %s %d: %w", c.class, id, err)
	}
	return internal, nil
}

// Seed upserts entries into the catalog. Relay entries whose description
// starts with "NO APLICA" are skipped and returned in ascending order.
func (c *SQLiteCatalog) Seed(ctx context.Context, entries map[int]string) (skipped []int, err error) {
	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		description := strings.TrimSpace(entries[id])
		if c.class == ClassRelay && strings.HasPrefix(strings.ToUpper(description), notApplicablePrefix) {
			skipped = append(skipped, id)
			continue
		}
		if err := c.Upsert(ctx, id, description); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
