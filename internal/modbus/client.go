package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// defaultTimeout bounds connect and each request when Config.Timeout is zero.
const defaultTimeout = 10 * time.Second

// ErrTransport is returned when a register read fails for any reason:
// link down, timeout, malformed reply or a modbus exception from the unit.
var ErrTransport = errors.New("modbus: transport error")

// Config holds the Modbus TCP gateway connection settings.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Reader reads holding registers from a unit behind the gateway.
// Implementations must be safe for concurrent use.
type Reader interface {
	ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds operational counters.
type Stats struct {
	ReadsTotal      uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	Connected       bool
	LastActivity    time.Time
}

// conn is the part of a Modbus TCP session the client uses.
type conn interface {
	Connect() error
	Close() error
	ReadHoldingRegisters(unitID byte, address, quantity uint16) ([]byte, error)
}

// dialFunc builds an unconnected session for address.
type dialFunc func(address string, timeout time.Duration) conn

// Ensure Client implements Reader.
var _ Reader = (*Client)(nil)

// Client is the shared Modbus TCP transport handle.
//
// Thread Safety:
//   - Requests are serialised on one TCP session; the gateway answers one
//     transaction at a time, so both monitor loops may call concurrently.
//
// Reconnection:
//   - The session is opened lazily on the first read.
//   - Any link failure closes the session; the next read dials again.
//   - A read that fails on a reused session is retried once on a fresh one.
type Client struct {
	address string
	timeout time.Duration
	dial    dialFunc
	logger  Logger

	mu      sync.Mutex
	session conn
	lastOK  time.Time

	reads      atomic.Uint64
	failures   atomic.Uint64
	reconnects atomic.Uint64
	dialed     atomic.Bool
}

// New validates cfg and returns a client. No connection is made until the
// first read.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("modbus host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("modbus port %d out of range", cfg.Port)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		timeout: timeout,
		dial:    dialTCP,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Address returns the gateway host:port.
func (c *Client) Address() string {
	return c.address
}

// Connect opens the session eagerly. Reads connect on demand, so a failure
// here is not fatal to callers that only want an early health signal.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.ensureSession()
	return err
}

// ReadHoldingRegisters reads quantity registers starting at address from
// unitID. All failures wrap ErrTransport.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.reads.Add(1)

	reused := c.session != nil
	raw, err := c.read(unitID, address, quantity)
	if err != nil && reused && isLinkError(err) && ctx.Err() == nil {
		c.logger.Debug("modbus read failed on reused session, retrying", "unit", unitID, "error", err)
		raw, err = c.read(unitID, address, quantity)
	}
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("%w: unit %d: %v", ErrTransport, unitID, err)
	}

	regs, err := decodeRegisters(raw, quantity)
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("%w: unit %d: %v", ErrTransport, unitID, err)
	}
	c.lastOK = time.Now()
	return regs, nil
}

// read performs one request. Caller holds c.mu.
func (c *Client) read(unitID byte, address, quantity uint16) ([]byte, error) {
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	raw, err := session.ReadHoldingRegisters(unitID, address, quantity)
	if err != nil && isLinkError(err) {
		c.dropSession()
	}
	return raw, err
}

// ensureSession dials when disconnected. Caller holds c.mu.
func (c *Client) ensureSession() (conn, error) {
	if c.session != nil {
		return c.session, nil
	}

	session := c.dial(c.address, c.timeout)
	if err := session.Connect(); err != nil {
		session.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting to %s: %w", c.address, err)
	}
	if c.dialed.Swap(true) {
		c.reconnects.Add(1)
		c.logger.Info("modbus session re-established", "address", c.address)
	} else {
		c.logger.Info("modbus session established", "address", c.address)
	}
	c.session = session
	return session, nil
}

// dropSession closes and forgets the session. Caller holds c.mu.
func (c *Client) dropSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Debug("closing modbus session", "error", err)
	}
	c.session = nil
	c.logger.Warn("modbus session dropped", "address", c.address)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	connected, last := c.session != nil, c.lastOK
	c.mu.Unlock()

	return Stats{
		ReadsTotal:      c.reads.Load(),
		ErrorsTotal:     c.failures.Load(),
		ReconnectsTotal: c.reconnects.Load(),
		Connected:       connected,
		LastActivity:    last,
	}
}

// Close closes the session. The client may still be used; the next read
// reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// isLinkError reports whether err means the session is unusable. A modbus
// exception is a valid reply from the unit and keeps the session open.
func isLinkError(err error) bool {
	var exc *gomodbus.ModbusError
	return !errors.As(err, &exc)
}

// decodeRegisters converts a big-endian register payload.
func decodeRegisters(raw []byte, quantity uint16) ([]uint16, error) {
	if len(raw) != int(quantity)*2 {
		return nil, fmt.Errorf("expected %d bytes, got %d", int(quantity)*2, len(raw))
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return regs, nil
}

// tcpConn adapts goburrow's handler and client to conn.
type tcpConn struct {
	handler *gomodbus.TCPClientHandler
	client  gomodbus.Client
}

func dialTCP(address string, timeout time.Duration) conn {
	handler := gomodbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	return &tcpConn{handler: handler, client: gomodbus.NewClient(handler)}
}

func (t *tcpConn) Connect() error { return t.handler.Connect() }
func (t *tcpConn) Close() error   { return t.handler.Close() }

func (t *tcpConn) ReadHoldingRegisters(unitID byte, address, quantity uint16) ([]byte, error) {
	t.handler.SlaveId = unitID
	return t.client.ReadHoldingRegisters(address, quantity)
}
