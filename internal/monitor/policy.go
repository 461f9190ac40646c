package monitor

import (
	"context"
	"fmt"

	"github.com/nerrad567/modbus-mw/internal/device"
)

// Reader is the slice of the Modbus transport a policy needs.
type Reader interface {
	ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error)
}

// Observation is the outcome of probing one device.
type Observation struct {
	Connected bool

	// Fault is a decoded fault detail. Empty means no fault.
	Fault string

	// Err is the transport error, if the read failed.
	Err error
}

// Policy turns a device read into a connectivity observation. Policies are
// device-class specific and must not block beyond the transport timeout.
type Policy interface {
	Probe(ctx context.Context, r Reader, d device.Device) Observation
}

// Block is the holding register range read on every probe.
type Block struct {
	Address uint16
	Count   uint16
}

// GRDPolicy reports a GRD connected when its register block reads back the
// configured online value in the first register. An OnlineValue of zero
// accepts any non-zero register in the block.
type GRDPolicy struct {
	Block       Block
	OnlineValue uint16
}

// Probe implements Policy.
func (p GRDPolicy) Probe(ctx context.Context, r Reader, d device.Device) Observation {
	regs, err := readBlock(ctx, r, d, p.Block)
	if err != nil {
		return Observation{Err: err}
	}
	return Observation{Connected: p.online(regs)}
}

func (p GRDPolicy) online(regs []uint16) bool {
	if len(regs) == 0 {
		return false
	}
	if p.OnlineValue != 0 {
		return regs[0] == p.OnlineValue
	}
	for _, v := range regs {
		if v != 0 {
			return true
		}
	}
	return false
}

// RelayPolicy treats a successful read as the online signal. When
// FaultRegister is a valid offset into the block, a non-zero value there is
// reported as a fault code.
type RelayPolicy struct {
	Block         Block
	FaultRegister int
}

// Probe implements Policy.
func (p RelayPolicy) Probe(ctx context.Context, r Reader, d device.Device) Observation {
	regs, err := readBlock(ctx, r, d, p.Block)
	if err != nil {
		return Observation{Err: err}
	}
	obs := Observation{Connected: true}
	if p.FaultRegister >= 0 && p.FaultRegister < len(regs) && regs[p.FaultRegister] != 0 {
		obs.Fault = fmt.Sprintf("fault code 0x%04X", regs[p.FaultRegister])
	}
	return obs
}

// readBlock addresses the device by its id as Modbus unit.
func readBlock(ctx context.Context, r Reader, d device.Device, b Block) ([]uint16, error) {
	if d.ID < 0 || d.ID > 255 {
		return nil, fmt.Errorf("device %d: unit id out of range", d.ID)
	}
	count := b.Count
	if count == 0 {
		count = 1
	}
	return r.ReadHoldingRegisters(ctx, byte(d.ID), b.Address, count)
}
