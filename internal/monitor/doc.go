// Package monitor runs the periodic connectivity loops for GRDs and relays.
//
// Each tick a loop probes every catalog device through a class-specific
// Policy, records a sample only when the observed state differs from the
// last known one, and publishes a full-fleet snapshot whether or not anything
// changed. A failed read marks that device disconnected without affecting the
// rest of the tick. A failed history write leaves the in-memory state alone so
// the transition is recorded on the next successful tick.
//
// The relay loop is gated by Deps.Enabled, which is re-checked on every tick.
package monitor
