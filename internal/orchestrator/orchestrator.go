// Package orchestrator builds the GRD and relay monitor loops on one shared
// Modbus transport and runs them for the lifetime of the process.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/config"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/mqtt"
	"github.com/nerrad567/modbus-mw/internal/monitor"
)

// Live WebSocket channels carrying per-class snapshots.
const (
	LiveGRDSnapshot   = "grd.snapshot"
	LiveRelaySnapshot = "reles.snapshot"
)

// ErrMissingDependency is returned when a required collaborator is nil.
var ErrMissingDependency = errors.New("orchestrator: missing dependency")

// Flags exposes the relay observer switch.
type Flags interface {
	RelaysEnabled() bool
}

// Options carries the shared collaborators. Mirror and Live are optional.
type Options struct {
	Interval time.Duration
	Modbus   config.ModbusConfig
	Devices  config.DevicesConfig
	Channels mqtt.Channels

	Reader       monitor.Reader
	GRDs         monitor.Catalog
	Relays       monitor.Catalog
	GRDHistory   monitor.History
	RelayHistory monitor.History
	Faults       monitor.FaultLog
	Publisher    monitor.Publisher
	Flags        Flags
	Mirror       monitor.Mirror
	Live         monitor.Broadcaster
	Logger       monitor.Logger
}

// Orchestrator owns the two monitor loops.
type Orchestrator struct {
	grd    *monitor.Loop
	relay  *monitor.Loop
	logger monitor.Logger
}

// New wires both loops to the same transport, publisher and flag store.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	interval := opts.Interval
	block := monitor.Block{
		Address: uint16(opts.Modbus.RegisterAddress), // #nosec G115 -- validated by config
		Count:   uint16(opts.Modbus.RegisterCount),   // #nosec G115 -- validated by config
	}

	grd := monitor.New(monitor.Config{
		Class:    device.ClassGRD,
		Interval: interval,
		Policy: monitor.GRDPolicy{
			Block:       block,
			OnlineValue: uint16(opts.Devices.GRDOnlineValue), // #nosec G115 -- validated by config
		},
		Snapshot:    opts.Channels.GRDs,
		Events:      opts.Channels.Events,
		Aggregate:   opts.Channels.Grado,
		LiveChannel: LiveGRDSnapshot,
	}, monitor.Deps{
		Reader:    opts.Reader,
		Catalog:   opts.GRDs,
		History:   opts.GRDHistory,
		Publisher: opts.Publisher,
		Mirror:    opts.Mirror,
		Live:      opts.Live,
		Logger:    opts.Logger,
	})

	relay := monitor.New(monitor.Config{
		Class:    device.ClassRelay,
		Interval: interval,
		Policy: monitor.RelayPolicy{
			Block:         block,
			FaultRegister: opts.Devices.RelayFaultRegister,
		},
		Snapshot:    opts.Channels.Relays,
		Events:      opts.Channels.Events,
		LiveChannel: LiveRelaySnapshot,
	}, monitor.Deps{
		Reader:    opts.Reader,
		Catalog:   opts.Relays,
		History:   opts.RelayHistory,
		Publisher: opts.Publisher,
		Enabled:   opts.Flags.RelaysEnabled,
		Faults:    opts.Faults,
		Mirror:    opts.Mirror,
		Live:      opts.Live,
		Logger:    opts.Logger,
	})

	return &Orchestrator{grd: grd, relay: relay, logger: opts.Logger}, nil
}

func (o Options) validate() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"reader", o.Reader == nil},
		{"grd catalog", o.GRDs == nil},
		{"relay catalog", o.Relays == nil},
		{"grd history", o.GRDHistory == nil},
		{"relay history", o.RelayHistory == nil},
		{"publisher", o.Publisher == nil},
		{"flags", o.Flags == nil},
	}
	for _, r := range required {
		if r.missing {
			return fmt.Errorf("%w: %s", ErrMissingDependency, r.name)
		}
	}
	return nil
}

// GRDLoop returns the GRD monitor loop.
func (o *Orchestrator) GRDLoop() *monitor.Loop { return o.grd }

// RelayLoop returns the relay monitor loop.
func (o *Orchestrator) RelayLoop() *monitor.Loop { return o.relay }

// Run starts both loops and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range []*monitor.Loop{o.grd, o.relay} {
		g.Go(func() error {
			if o.logger != nil {
				o.logger.Info("monitor loop started", "class", loop.Class())
			}
			return loop.Run(ctx)
		})
	}
	return g.Wait()
}
