package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/modbus-mw/internal/device"
)

// Catalog validates device identity.
type Catalog interface {
	Description(ctx context.Context, id int) (string, error)
}

// Store is the read side of the history repository.
type Store interface {
	Series(ctx context.Context, deviceID int, start, end time.Time) ([]device.Sample, error)
	AllSeries(ctx context.Context, deviceID int) ([]device.Sample, error)
	TotalPeriods(ctx context.Context, deviceID int, period device.Period, now time.Time) (int, error)
	StateBefore(ctx context.Context, deviceID int, ts time.Time) (connected, ok bool, err error)
}

// Payload is a windowed, paginated view of one device's history.
type Payload struct {
	DeviceID        int
	Description     string
	Window          Window
	Page            int
	TotalPeriods    int
	RangeStart      time.Time
	RangeEnd        time.Time
	ConnectedBefore bool
	Samples         []device.Sample
}

// MarshalJSON renders range bounds as ISO-8601 UTC and never emits a null
// sample list.
func (p Payload) MarshalJSON() ([]byte, error) {
	samples := p.Samples
	if samples == nil {
		samples = []device.Sample{}
	}
	return json.Marshal(struct {
		DeviceID        int             `json:"device_id"`
		Description     string          `json:"description"`
		Window          Window          `json:"window"`
		Page            int             `json:"page"`
		TotalPeriods    int             `json:"total_periods"`
		RangeStart      string          `json:"range_start"`
		RangeEnd        string          `json:"range_end"`
		ConnectedBefore bool            `json:"connected_before"`
		Samples         []device.Sample `json:"samples"`
	}{
		DeviceID:        p.DeviceID,
		Description:     p.Description,
		Window:          p.Window,
		Page:            p.Page,
		TotalPeriods:    p.TotalPeriods,
		RangeStart:      device.FormatTimestamp(p.RangeStart),
		RangeEnd:        device.FormatTimestamp(p.RangeEnd),
		ConnectedBefore: p.ConnectedBefore,
		Samples:         samples,
	})
}

// Engine answers history queries for one device class. It holds no state
// of its own and is safe for concurrent use.
type Engine struct {
	catalog Catalog
	store   Store
	now     func() time.Time
}

// NewEngine creates an engine over a catalog and its history store.
func NewEngine(catalog Catalog, store Store) *Engine {
	return &Engine{catalog: catalog, store: store, now: time.Now}
}

// Query builds the payload for (deviceID, window, page). Unknown devices
// fail with device.ErrDeviceNotFound before any range is computed.
func (e *Engine) Query(ctx context.Context, deviceID int, window Window, page int) (*Payload, error) {
	description, err := e.catalog.Description(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	window = ParseWindow(string(window))
	page = max(page, 0)
	now := e.now().UTC()

	p := &Payload{
		DeviceID:     deviceID,
		Description:  description,
		Window:       window,
		Page:         page,
		TotalPeriods: 1,
	}

	switch window {
	case WindowAll:
		p.Samples, err = e.store.AllSeries(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("loading series: %w", err)
		}
		if len(p.Samples) > 0 {
			p.RangeStart = p.Samples[0].Timestamp
			p.RangeEnd = p.Samples[len(p.Samples)-1].Timestamp
		} else {
			p.RangeStart, p.RangeEnd = now.Add(-defaultAllRange), now
		}
	default:
		if window == WindowMonth {
			p.RangeStart, p.RangeEnd = MonthRange(now, page)
		} else {
			p.RangeStart, p.RangeEnd = WeekRange(now, page)
		}
		p.Samples, err = e.store.Series(ctx, deviceID, p.RangeStart, p.RangeEnd)
		if err != nil {
			return nil, fmt.Errorf("loading series: %w", err)
		}
		period, _ := window.Period()
		total, err := e.store.TotalPeriods(ctx, deviceID, period, now)
		if err != nil {
			return nil, fmt.Errorf("counting periods: %w", err)
		}
		p.TotalPeriods = max(total, 1)
	}

	before, ok, err := e.store.StateBefore(ctx, deviceID, p.RangeStart)
	if err != nil {
		return nil, fmt.Errorf("loading state before window: %w", err)
	}
	p.ConnectedBefore = ok && before

	return p, nil
}
