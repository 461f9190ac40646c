package monitor

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/mqtt"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 5 * time.Second

// Catalog lists the devices a loop polls.
type Catalog interface {
	List(ctx context.Context) ([]device.Device, error)
	InternalID(ctx context.Context, id int) (int64, error)
}

// History is the write side of the history store plus the startup seed.
type History interface {
	AppendSample(ctx context.Context, deviceID int, ts time.Time, connected bool) error
	LatestState(ctx context.Context, deviceID int) (connected, ok bool, err error)
}

// FaultLog records relay faults.
type FaultLog interface {
	RecordFault(ctx context.Context, relayID int64, ts time.Time, detail string) error
	LatestFault(ctx context.Context, relayID int64) (*device.Fault, error)
}

// Publisher broadcasts payloads. Publish never fails from the caller's view.
type Publisher interface {
	Publish(ch mqtt.Channel, payload any)
}

// Mirror receives transitions and fleet totals for dashboards.
type Mirror interface {
	WriteConnectivity(class string, deviceID int, ts time.Time, connected bool)
	WriteFleet(class string, total, connected int, ts time.Time)
}

// Broadcaster pushes snapshots to live WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging surface used by the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config describes one loop variant.
type Config struct {
	Class    device.Class
	Interval time.Duration
	Policy   Policy

	// Snapshot receives {device_id: connected} every tick.
	Snapshot mqtt.Channel

	// Events receives one message per recorded transition. Empty topic disables it.
	Events mqtt.Channel

	// Aggregate receives the fleet percentage. Empty topic disables it.
	Aggregate mqtt.Channel

	// LiveChannel is the WebSocket channel name for snapshots.
	LiveChannel string
}

// Deps are the shared collaborators injected into a loop.
type Deps struct {
	Reader    Reader
	Catalog   Catalog
	History   History
	Publisher Publisher

	// Enabled gates every tick when set. A false result skips the tick entirely.
	Enabled func() bool

	Faults FaultLog
	Mirror Mirror
	Live   Broadcaster
	Logger Logger
}

// Aggregate is the fleet summary published after each tick.
type Aggregate struct {
	Percent   float64 `json:"porcentaje"`
	Total     int     `json:"total"`
	Connected int     `json:"conectados"`
	Timestamp string  `json:"ts"`
}

// NewAggregate computes the rounded fleet percentage.
func NewAggregate(total, connected int, ts time.Time) Aggregate {
	pct := 0.0
	if total > 0 {
		pct = math.Round(float64(connected)*10000/float64(total)) / 100
	}
	return Aggregate{Percent: pct, Total: total, Connected: connected, Timestamp: device.FormatTimestamp(ts)}
}

// Event announces a recorded transition.
type Event struct {
	Class     device.Class `json:"class"`
	DeviceID  int          `json:"device_id"`
	Connected bool         `json:"connected"`
	Timestamp string       `json:"timestamp"`
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped     bool
	Devices     int
	Connected   int
	Transitions int
	ReadErrors  int
	WriteErrors int
}

// Loop polls one device class at a fixed cadence.
//
// Thread Safety:
//   - Run and Tick must be called from a single goroutine. The last-state
//     maps are owned by that goroutine.
type Loop struct {
	cfg  Config
	deps Deps

	last      map[int]bool
	lastFault map[int]string

	now func() time.Time
}

// New creates a loop. Missing optional collaborators are tolerated.
func New(cfg Config, deps Deps) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Loop{
		cfg:       cfg,
		deps:      deps,
		last:      make(map[int]bool),
		lastFault: make(map[int]string),
		now:       time.Now,
	}
}

// Class returns the device class polled by the loop.
func (l *Loop) Class() device.Class {
	return l.cfg.Class
}

// Run ticks immediately and then every interval until ctx is cancelled.
// Tick errors never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.seed(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// seed loads the last recorded state of every catalog device.
func (l *Loop) seed(ctx context.Context) {
	devices, err := l.deps.Catalog.List(ctx)
	if err != nil {
		l.deps.Logger.Warn("monitor seed skipped", "class", l.cfg.Class, "error", err)
		return
	}
	for _, d := range devices {
		l.knownState(ctx, d.ID)
	}
	l.deps.Logger.Info("monitor seeded", "class", l.cfg.Class, "devices", len(devices), "known", len(l.last))
}

// knownState returns the last state for id, loading it from history on first use.
func (l *Loop) knownState(ctx context.Context, id int) (bool, bool) {
	if state, ok := l.last[id]; ok {
		return state, true
	}
	state, ok, err := l.deps.History.LatestState(ctx, id)
	if err != nil {
		l.deps.Logger.Warn("latest state lookup failed", "class", l.cfg.Class, "device_id", id, "error", err)
		return false, false
	}
	if ok {
		l.last[id] = state
	}
	return state, ok
}

// Tick runs one polling pass over the catalog.
func (l *Loop) Tick(ctx context.Context) TickResult {
	var res TickResult
	if l.deps.Enabled != nil && !l.deps.Enabled() {
		l.deps.Logger.Debug("monitor disabled, tick skipped", "class", l.cfg.Class)
		res.Skipped = true
		return res
	}

	devices, err := l.deps.Catalog.List(ctx)
	if err != nil {
		l.deps.Logger.Error("listing catalog failed", "class", l.cfg.Class, "error", err)
		res.Skipped = true
		return res
	}

	ts := l.now().UTC()
	snapshot := make(map[string]bool, len(devices))

	for _, d := range devices {
		if ctx.Err() != nil {
			return res
		}
		obs := l.cfg.Policy.Probe(ctx, l.deps.Reader, d)
		if obs.Err != nil {
			res.ReadErrors++
			l.deps.Logger.Debug("device read failed", "class", l.cfg.Class, "device_id", d.ID, "error", obs.Err)
		}

		res.Devices++
		if obs.Connected {
			res.Connected++
		}
		snapshot[strconv.Itoa(d.ID)] = obs.Connected

		changed, err := l.record(ctx, d.ID, ts, obs.Connected)
		if err != nil {
			res.WriteErrors++
			l.deps.Logger.Error("recording transition failed", "class", l.cfg.Class, "device_id", d.ID, "error", err)
		} else if changed {
			res.Transitions++
		}

		if obs.Fault != "" {
			l.recordFault(ctx, d.ID, ts, obs.Fault)
		}
	}

	l.publish(snapshot, res, ts)
	return res
}

// record appends a sample when state differs from the last known one. The
// in-memory state only moves after a successful write so a failed write is
// re-detected on the next tick.
func (l *Loop) record(ctx context.Context, id int, ts time.Time, connected bool) (bool, error) {
	prev, known := l.knownState(ctx, id)
	if known && prev == connected {
		return false, nil
	}
	if err := l.deps.History.AppendSample(ctx, id, ts, connected); err != nil {
		return false, err
	}
	l.last[id] = connected

	l.deps.Logger.Info("connectivity changed", "class", l.cfg.Class, "device_id", id, "connected", connected)
	if l.cfg.Events.Topic != "" {
		l.deps.Publisher.Publish(l.cfg.Events, Event{
			Class:     l.cfg.Class,
			DeviceID:  id,
			Connected: connected,
			Timestamp: device.FormatTimestamp(ts),
		})
	}
	if l.deps.Mirror != nil {
		l.deps.Mirror.WriteConnectivity(string(l.cfg.Class), id, ts, connected)
	}
	return true, nil
}

// recordFault appends detail unless it repeats the most recent fault.
func (l *Loop) recordFault(ctx context.Context, id int, ts time.Time, detail string) {
	if l.deps.Faults == nil {
		return
	}
	if l.lastFault[id] == detail {
		return
	}

	internalID, err := l.deps.Catalog.InternalID(ctx, id)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) {
			l.deps.Logger.Warn("resolving relay id failed", "device_id", id, "error", err)
		}
		return
	}

	if _, seen := l.lastFault[id]; !seen {
		latest, err := l.deps.Faults.LatestFault(ctx, internalID)
		if err != nil {
			l.deps.Logger.Warn("latest fault lookup failed", "device_id", id, "error", err)
			return
		}
		if latest != nil && latest.Detail == detail {
			l.lastFault[id] = detail
			return
		}
	}

	if err := l.deps.Faults.RecordFault(ctx, internalID, ts, detail); err != nil {
		l.deps.Logger.Error("recording fault failed", "device_id", id, "error", err)
		return
	}
	l.lastFault[id] = detail
	l.deps.Logger.Warn("relay fault recorded", "device_id", id, "detail", detail)
}

// publish sends the snapshot and derived aggregates. It runs every tick.
func (l *Loop) publish(snapshot map[string]bool, res TickResult, ts time.Time) {
	l.deps.Publisher.Publish(l.cfg.Snapshot, snapshot)

	if l.cfg.Aggregate.Topic != "" {
		l.deps.Publisher.Publish(l.cfg.Aggregate, NewAggregate(res.Devices, res.Connected, ts))
	}
	if l.deps.Mirror != nil {
		l.deps.Mirror.WriteFleet(string(l.cfg.Class), res.Devices, res.Connected, ts)
	}
	if l.deps.Live != nil && l.cfg.LiveChannel != "" {
		l.deps.Live.Broadcast(l.cfg.LiveChannel, snapshot)
	}

	l.deps.Logger.Debug("tick complete",
		"class", l.cfg.Class,
		"devices", res.Devices,
		"connected", res.Connected,
		"transitions", res.Transitions,
		"read_errors", res.ReadErrors,
	)
}
