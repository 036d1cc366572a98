// Package session owns the single persistent TCP connection to the
// device. One goroutine holds the socket; everything else talks to it
// through a bounded FIFO queue, one command in flight at a time.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/wire"
)

var (
	// ErrUnreachable is returned once the retry budget for a command is
	// exhausted; it wraps the last transport error.
	ErrUnreachable = errors.New("device unreachable")
	// ErrClosed is returned for commands submitted to or stranded in a
	// closing session.
	ErrClosed = errors.New("session closed")
)

// ConnState is the observable connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backingoff"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time counter snapshot for diagnostics.
type Stats struct {
	State             string `json:"state"`
	CommandsOK        uint64 `json:"commandsOk"`
	CommandsFailed    uint64 `json:"commandsFailed"`
	Attempts          uint64 `json:"attempts"`
	Retries           uint64 `json:"retries"`
	TransportFailures uint64 `json:"transportFailures"`
	ProtocolErrors    uint64 `json:"protocolErrors"`
}

type request struct {
	cmd     wire.Command
	encoded []byte
	result  chan outcome
}

type outcome struct {
	reply wire.Reply
	err   error
}

// Manager serializes all device commands over one TCP connection with
// transparent reconnection. Transport failures are retried with backoff
// up to the configured attempt budget; protocol errors are returned
// immediately and never retried.
type Manager struct {
	cfg     config.DeviceConfig
	log     *slog.Logger
	backoff Backoff

	// dial and sleep are replaceable in tests.
	dial  func(ctx context.Context) (net.Conn, error)
	sleep func(ctx context.Context, d time.Duration) error

	requests chan *request
	state    atomic.Int32

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	commandsOK        atomic.Uint64
	commandsFailed    atomic.Uint64
	attempts          atomic.Uint64
	retries           atomic.Uint64
	transportFailures atomic.Uint64
	protocolErrors    atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(parent context.Context, cfg config.DeviceConfig, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg: cfg,
		log: logger.With(slog.String("component", "session")),
		backoff: Backoff{
			Initial: time.Duration(cfg.BackoffInitial) * time.Millisecond,
			Max:     time.Duration(cfg.BackoffMax) * time.Millisecond,
			Jitter:  cfg.BackoffJitter,
		},
		requests: make(chan *request, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.dial = m.dialDevice
	m.sleep = sleepContext
	m.initMetrics()
	return m
}

func (m *Manager) Start() error {
	m.wg.Add(1)
	go m.run()
	return nil
}

// Close stops the actor. The live connection is closed out from under a
// blocked read so shutdown does not wait out a command timeout; queued
// commands fail with ErrClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.mu.Lock()
		if m.conn != nil {
			_ = m.conn.Close()
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
}

func (m *Manager) Healthy() bool {
	return m.ctx.Err() == nil
}

// State reports the connection lifecycle state.
func (m *Manager) State() ConnState {
	return ConnState(m.state.Load())
}

// Stats snapshots the counters; safe from any goroutine.
func (m *Manager) Stats() Stats {
	return Stats{
		State:             m.State().String(),
		CommandsOK:        m.commandsOK.Load(),
		CommandsFailed:    m.commandsFailed.Load(),
		Attempts:          m.attempts.Load(),
		Retries:           m.retries.Load(),
		TransportFailures: m.transportFailures.Load(),
		ProtocolErrors:    m.protocolErrors.Load(),
	}
}

// Submit encodes the command, enqueues it and waits for its reply.
// Validation failures surface before the command is queued, with no
// I/O. The FIFO queue alone decides device ordering; ctx governs only
// how long the caller waits. A caller that gives up does not disturb
// the in-flight exchange: the actor still consumes the reply so the
// stream never desynchronizes.
func (m *Manager) Submit(ctx context.Context, cmd wire.Command) (wire.Reply, error) {
	encoded, err := cmd.Encode()
	if err != nil {
		return wire.Reply{}, err
	}
	req := &request{cmd: cmd, encoded: encoded, result: make(chan outcome, 1)}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	case <-m.ctx.Done():
		return wire.Reply{}, ErrClosed
	}

	select {
	case out := <-req.result:
		return out.reply, out.err
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	case <-m.ctx.Done():
		return wire.Reply{}, ErrClosed
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	defer m.dropConn()

	for {
		select {
		case <-m.ctx.Done():
			m.failPending()
			return
		case req := <-m.requests:
			req.result <- m.execute(req)
		}
	}
}

func (m *Manager) execute(req *request) outcome {
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-m.ctx.Done():
			return outcome{err: ErrClosed}
		default:
		}

		m.attempts.Add(1)
		if attempt > 1 {
			m.retries.Add(1)
		}

		if err := m.ensureConnected(); err != nil {
			lastErr = err
			m.transportFailures.Add(1)
			m.log.Warn("connect failed",
				slog.Int("attempt", attempt),
				slogError(err))
			if attempt < m.cfg.MaxAttempts {
				if !m.pause(attempt) {
					return outcome{err: ErrClosed}
				}
			}
			continue
		}

		reply, err := m.roundTrip(req.encoded)
		if err == nil {
			m.commandsOK.Add(1)
			return outcome{reply: reply}
		}

		if isProtocolError(err) {
			// The device answered, just not usefully. Retrying cannot
			// help; an undecodable line also makes the stream state
			// unknowable, so the connection is dropped in that case.
			m.protocolErrors.Add(1)
			m.commandsFailed.Add(1)
			if errors.Is(err, wire.ErrMalformedResponse) {
				m.dropConn()
				m.state.Store(int32(StateDisconnected))
			}
			m.log.Warn("protocol error",
				slog.String("command", req.cmd.String()),
				slogError(err))
			return outcome{reply: reply, err: err}
		}

		lastErr = err
		m.transportFailures.Add(1)
		m.dropConn()
		m.log.Warn("transport failure",
			slog.String("command", req.cmd.String()),
			slog.Int("attempt", attempt),
			slogError(err))
		if attempt < m.cfg.MaxAttempts {
			if !m.pause(attempt) {
				return outcome{err: ErrClosed}
			}
		}
	}

	m.state.Store(int32(StateDisconnected))
	m.commandsFailed.Add(1)
	return outcome{err: fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, m.cfg.MaxAttempts, lastErr)}
}

func (m *Manager) ensureConnected() error {
	m.mu.Lock()
	connected := m.conn != nil
	m.mu.Unlock()
	if connected {
		return nil
	}

	m.state.Store(int32(StateConnecting))
	conn, err := m.dial(m.ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.reader = bufio.NewReaderSize(conn, m.maxResponseBytes())
	m.mu.Unlock()
	m.state.Store(int32(StateConnected))
	m.log.Info("device connected", slog.String("addr", conn.RemoteAddr().String()))
	return nil
}

// roundTrip writes one framed command and reads exactly one reply line,
// both bounded by the command timeout.
func (m *Manager) roundTrip(encoded []byte) (wire.Reply, error) {
	m.mu.Lock()
	conn, reader := m.conn, m.reader
	m.mu.Unlock()
	if conn == nil {
		return wire.Reply{}, errors.New("connection lost")
	}

	deadline := time.Now().Add(time.Duration(m.cfg.CommandTimeout) * time.Millisecond)
	if err := conn.SetDeadline(deadline); err != nil {
		return wire.Reply{}, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		return wire.Reply{}, fmt.Errorf("write command: %w", err)
	}

	line, err := reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return wire.Reply{}, fmt.Errorf("%w: reply exceeds %d bytes", wire.ErrMalformedResponse, m.maxResponseBytes())
		}
		return wire.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return wire.DecodeReply(line, time.Now())
}

func (m *Manager) pause(attempt int) bool {
	m.state.Store(int32(StateBackingOff))
	delay := m.backoff.Delay(attempt)
	if err := m.sleep(m.ctx, delay); err != nil {
		return false
	}
	return true
}

func (m *Manager) dropConn() {
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.reader = nil
	}
	m.mu.Unlock()
}

func (m *Manager) failPending() {
	for {
		select {
		case req := <-m.requests:
			req.result <- outcome{err: ErrClosed}
		default:
			return
		}
	}
}

func (m *Manager) dialDevice(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: time.Duration(m.cfg.ConnectTimeout) * time.Millisecond}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func (m *Manager) maxResponseBytes() int {
	if m.cfg.MaxResponseBytes < 64 {
		return 4096
	}
	return m.cfg.MaxResponseBytes
}

func isProtocolError(err error) bool {
	return errors.Is(err, wire.ErrDeviceError) || errors.Is(err, wire.ErrMalformedResponse)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
