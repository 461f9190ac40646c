package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/modbus-mw/internal/infrastructure/config"
)

// maxPayloadSize caps a single publish (1MB), in line with broker limits.
const maxPayloadSize = 1 << 20

// State is the connection state of a Publisher.
type State int

// Publisher states. Any failure moves to StateDisconnected; a publish in
// StateDisconnected attempts to connect first.
const (
	StateDisconnected State = iota
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// session is one live broker connection.
type session interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Stats holds publisher counters.
type Stats struct {
	Published uint64
	Failed    uint64
	Connects  uint64
	State     State
}

// Publisher is a best-effort broadcaster of JSON snapshots.
//
// Thread Safety:
//   - One mutex guards the session. Connect-then-publish from concurrent
//     callers is serialised and never observes a half torn-down session.
//
// Delivery:
//   - At most once per call. A failed publish is logged, the session is
//     discarded and the message is dropped. The next call reconnects.
type Publisher struct {
	dial   func() (session, error)
	logger Logger

	mu      sync.Mutex
	state   State
	session session

	published atomic.Uint64
	failed    atomic.Uint64
	connects  atomic.Uint64
}

// NewPublisher builds a disconnected publisher for the configured broker.
// Nothing is dialed until the first publish or Connect.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return newPublisher(dialPaho(buildClientOptions(cfg)))
}

func newPublisher(dial func() (session, error)) *Publisher {
	return &Publisher{
		dial:   dial,
		logger: noopLogger{},
		state:  StateDisconnected,
	}
}

// SetLogger sets the logger used for publish failures.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Connect makes one connect attempt if disconnected.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.ensureSession()
	return err
}

// Publish encodes payload as JSON and sends it on ch. It never returns an
// error: failures are logged and the session is rebuilt on the next call.
func (p *Publisher) Publish(ch Channel, payload any) {
	if err := p.Send(ch, payload); err != nil {
		p.logger.Warn("mqtt publish dropped", "topic", ch.Topic, "error", err)
	}
}

// Send is Publish with the error returned, for callers that report it.
func (p *Publisher) Send(ch Channel, payload any) error {
	if ch.Topic == "" {
		return ErrInvalidTopic
	}
	if ch.QoS > maxQoS {
		return ErrInvalidQoS
	}

	body, err := encodePayload(payload)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if len(body) > maxPayloadSize {
		p.failed.Add(1)
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(body), maxPayloadSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.ensureSession()
	if err != nil {
		p.failed.Add(1)
		return err
	}

	if err := s.Publish(ch.Topic, ch.QoS, ch.Retain, body); err != nil {
		p.failed.Add(1)
		p.teardown()
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.published.Add(1)
	return nil
}

// ensureSession returns the live session, dialing once if there is none or
// if the current one has dropped. Caller holds p.mu.
func (p *Publisher) ensureSession() (session, error) {
	if p.state == StateConnected && p.session != nil {
		if p.session.IsConnected() {
			return p.session, nil
		}
		p.logger.Warn("mqtt session lost, reconnecting")
		p.teardown()
	}

	s, err := p.dial()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotConnected
	}

	p.session = s
	p.state = StateConnected
	p.connects.Add(1)
	p.logger.Info("mqtt publisher connected")
	return s, nil
}

// teardown discards the session. Caller holds p.mu.
func (p *Publisher) teardown() {
	if p.session != nil {
		p.session.Close()
	}
	p.session = nil
	p.state = StateDisconnected
}

// State returns the current connection state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Connects:  p.connects.Load(),
		State:     p.State(),
	}
}

// Close disconnects from the broker. A later publish reconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.teardown()
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
