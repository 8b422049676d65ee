package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the lifecycle state of the radio session slot.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateReinitializing
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateReinitializing:
		return "reinitializing"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

var (
	// ErrNoSession is returned by Receive/Send while no session is live
	// (before the first init, mid-reinitialization, or after a failed init).
	ErrNoSession = errors.New("radio: no active session")
	// ErrInit matches every *InitError.
	ErrInit = errors.New("radio: init failed")
)

type InitError struct {
	Config Config
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("radio: init failed (%s): %v", e.Config, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInit }

// DefaultSettleDelay is the pause after teardown and after bring-up that
// lets the module's oscillator and PA settle.
const DefaultSettleDelay = 100 * time.Millisecond

// Status describes the session slot. FrequencyMHz and TxPowerDBm are the
// values the live session was brought up with and are zero while no
// session is live. The Requested fields hold the config of the most
// recent Reinitialize, whether or not it succeeded.
type Status struct {
	State                 State     `json:"-"`
	StateName             string    `json:"state"`
	FrequencyMHz          float64   `json:"frequency_mhz,omitempty"`
	TxPowerDBm            int       `json:"tx_power_dbm,omitempty"`
	RequestedFrequencyMHz float64   `json:"requested_frequency_mhz,omitempty"`
	RequestedTxPowerDBm   int       `json:"requested_tx_power_dbm,omitempty"`
	LastError             string    `json:"last_error,omitempty"`
	SessionsOpened        uint64    `json:"sessions_opened"`
	LastChangeUTC         time.Time `json:"last_change_utc,omitempty"`
}

// Manager owns the single live Transceiver.
//
// sessMu guards the session slot and is held for the duration of one
// Receive or Send, so teardown never races an in-flight transfer.
// reconfigMu serializes Reinitialize calls.
type Manager struct {
	open   OpenFunc
	settle time.Duration
	notify func(State)

	reconfigMu sync.Mutex

	sessMu sync.Mutex
	sess   Transceiver

	stMu   sync.Mutex
	status Status
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.settle = d
	}
}

// WithStateObserver registers fn to be called after every state change.
func WithStateObserver(fn func(State)) func(m *Manager) {
	return func(m *Manager) {
		m.notify = fn
	}
}

func NewManager(open OpenFunc, opts ...func(m *Manager)) *Manager {
	m := &Manager{open: open, settle: DefaultSettleDelay}
	for _, opt := range opts {
		opt(m)
	}
	m.status = Status{State: StateUninitialized, StateName: StateUninitialized.String()}
	return m
}

// Reinitialize tears down the current session (if any) and brings up a new
// one bound to cfg. Teardown errors are logged and ignored. If the new
// session cannot be opened the slot stays empty, the manager reports
// StateUnavailable, and an *InitError is returned; the old session is not
// restored.
func (m *Manager) Reinitialize(ctx context.Context, cfg Config) error {
	if m == nil || m.open == nil {
		return &InitError{Config: cfg, Err: errors.New("no transceiver opener configured")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.reconfigMu.Lock()
	defer m.reconfigMu.Unlock()

	m.sessMu.Lock()
	old := m.sess
	m.sess = nil
	m.sessMu.Unlock()
	m.setState(StateReinitializing, cfg, "", false)

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("radio teardown failed (continuing): %v", err)
		}
		if err := sleepCtx(ctx, m.settle); err != nil {
			return m.fail(cfg, err)
		}
	}

	next, err := m.open(cfg)
	if err != nil {
		return m.fail(cfg, err)
	}
	if err := sleepCtx(ctx, m.settle); err != nil {
		_ = next.Close()
		return m.fail(cfg, err)
	}

	m.sessMu.Lock()
	m.sess = next
	m.sessMu.Unlock()
	m.setState(StateActive, cfg, "", true)
	log.Printf("radio active %s", cfg)
	return nil
}

func (m *Manager) fail(cfg Config, err error) error {
	ie := &InitError{Config: cfg, Err: err}
	m.setState(StateUnavailable, cfg, ie.Error(), false)
	log.Printf("radio unavailable: %v", ie)
	return ie
}

// Receive polls the live session for one frame. It returns ErrNoSession
// immediately when the slot is empty.
func (m *Manager) Receive(timeout time.Duration) (Frame, error) {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	if m.sess == nil {
		return Frame{}, ErrNoSession
	}
	return m.sess.Receive(timeout)
}

func (m *Manager) Send(payload []byte) error {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	if m.sess == nil {
		return ErrNoSession
	}
	return m.sess.Send(payload)
}

func (m *Manager) Status() Status {
	if m == nil {
		return Status{}
	}
	m.stMu.Lock()
	defer m.stMu.Unlock()
	return m.status
}

// Close tears down the live session. The manager can be reinitialized
// afterwards.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.reconfigMu.Lock()
	defer m.reconfigMu.Unlock()

	m.sessMu.Lock()
	old := m.sess
	m.sess = nil
	m.sessMu.Unlock()

	cur := m.Status()
	m.setState(StateUninitialized, Config{FrequencyMHz: cur.RequestedFrequencyMHz, TxPowerDBm: cur.RequestedTxPowerDBm}, "", false)
	if old == nil {
		return nil
	}
	return old.Close()
}

func (m *Manager) setState(st State, cfg Config, lastErr string, countOpen bool) {
	m.stMu.Lock()
	m.status.State = st
	m.status.StateName = st.String()
	m.status.RequestedFrequencyMHz = cfg.FrequencyMHz
	m.status.RequestedTxPowerDBm = cfg.TxPowerDBm
	if st == StateActive {
		m.status.FrequencyMHz = cfg.FrequencyMHz
		m.status.TxPowerDBm = cfg.TxPowerDBm
	} else {
		m.status.FrequencyMHz = 0
		m.status.TxPowerDBm = 0
	}
	if st != StateReinitializing {
		m.status.LastError = lastErr
	}
	if countOpen {
		m.status.SessionsOpened++
	}
	m.status.LastChangeUTC = time.Now().UTC()
	m.stMu.Unlock()

	if m.notify != nil {
		m.notify(st)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
