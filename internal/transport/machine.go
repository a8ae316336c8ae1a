package transport

import (
	"fmt"
	"time"

	"github.com/vrsandeep/vidscribe/internal/events"
)

// State is the connection state of the transport.
type State = events.ConnectionState

const (
	Disconnected = events.Disconnected
	Connecting   = events.Connecting
	Connected    = events.Connected
	Error        = events.Error
)

// EffectKind names a side effect requested by the Machine.
type EffectKind int

const (
	EffectOpen EffectKind = iota
	EffectClose
	EffectStartHeartbeat
	EffectStopHeartbeat
	EffectScheduleReconnect
	EffectCancelReconnect
	EffectStateChanged
	EffectResolve
	EffectReject
)

func (k EffectKind) String() string {
	switch k {
	case EffectOpen:
		return "open"
	case EffectClose:
		return "close"
	case EffectStartHeartbeat:
		return "start-heartbeat"
	case EffectStopHeartbeat:
		return "stop-heartbeat"
	case EffectScheduleReconnect:
		return "schedule-reconnect"
	case EffectCancelReconnect:
		return "cancel-reconnect"
	case EffectStateChanged:
		return "state-changed"
	case EffectResolve:
		return "resolve"
	case EffectReject:
		return "reject"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one side effect the driver must carry out, in order.
type Effect struct {
	Kind    EffectKind
	State   State         // EffectStateChanged
	Delay   time.Duration // EffectScheduleReconnect
	Attempt int           // EffectScheduleReconnect, 1-based
	Clean   bool          // EffectClose
	Err     error         // EffectReject
}

// Machine is the connection state machine with no I/O of its own. Every
// input returns the effects to perform. It is not safe for concurrent use.
type Machine struct {
	policy    ReconnectPolicy
	state     State
	attempts  int
	pending   bool // reconnect timer scheduled
	heartbeat bool
}

// NewMachine returns a Machine in the Disconnected state.
func NewMachine(policy ReconnectPolicy) *Machine {
	return &Machine{policy: policy, state: Disconnected}
}

func (m *Machine) State() State           { return m.state }
func (m *Machine) Attempts() int          { return m.attempts }
func (m *Machine) ReconnectPending() bool { return m.pending }

func (m *Machine) enter(s State, effs []Effect) []Effect {
	if m.state == s {
		return effs
	}
	m.state = s
	return append(effs, Effect{Kind: EffectStateChanged, State: s})
}

// Connect is a manual connect request. It resolves at once when Connected
// and joins the attempt in flight when Connecting. From Error it starts over
// with a fresh attempt budget.
func (m *Machine) Connect() []Effect {
	switch m.state {
	case Connected:
		return []Effect{{Kind: EffectResolve}}
	case Connecting:
		return nil
	}
	var effs []Effect
	if m.pending {
		m.pending = false
		effs = append(effs, Effect{Kind: EffectCancelReconnect})
	}
	if m.state == Error {
		m.attempts = 0
	}
	effs = m.enter(Connecting, effs)
	return append(effs, Effect{Kind: EffectOpen})
}

// Opened reports that the socket opened. An open that arrives outside
// Connecting belongs to an abandoned attempt and is closed.
func (m *Machine) Opened() []Effect {
	if m.state != Connecting {
		return []Effect{{Kind: EffectClose, Clean: true}}
	}
	m.attempts = 0
	m.heartbeat = true
	effs := m.enter(Connected, nil)
	return append(effs,
		Effect{Kind: EffectStartHeartbeat},
		Effect{Kind: EffectResolve},
	)
}

// Closed reports that the socket closed or failed to open. Clean closes
// settle in Disconnected; unclean ones schedule a reconnect until the
// attempt cap is reached, then settle in Error.
func (m *Machine) Closed(clean bool, cause error) []Effect {
	if m.state != Connecting && m.state != Connected {
		return nil
	}
	var effs []Effect
	if m.heartbeat {
		m.heartbeat = false
		effs = append(effs, Effect{Kind: EffectStopHeartbeat})
	}

	if clean {
		m.attempts = 0
		effs = m.enter(Disconnected, effs)
		return append(effs, Effect{Kind: EffectReject, Err: ErrClosedByPeer})
	}

	if m.policy.MaxAttempts >= 0 && m.attempts >= m.policy.MaxAttempts {
		err := &TransportError{Op: "reconnect", Attempts: m.attempts, Err: ErrReconnectExhausted}
		if cause != nil {
			err.Err = fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
		}
		effs = m.enter(Error, effs)
		return append(effs, Effect{Kind: EffectReject, Err: err})
	}

	delay := m.policy.Delay(m.attempts)
	m.attempts++
	m.pending = true
	effs = m.enter(Disconnected, effs)
	return append(effs, Effect{Kind: EffectScheduleReconnect, Delay: delay, Attempt: m.attempts})
}

// ReconnectDue reports that the reconnect timer fired.
func (m *Machine) ReconnectDue() []Effect {
	if !m.pending || m.state != Disconnected {
		return nil
	}
	m.pending = false
	effs := m.enter(Connecting, nil)
	return append(effs, Effect{Kind: EffectOpen})
}

// Disconnect is a manual, clean disconnect. It always settles in
// Disconnected with no reconnect pending.
func (m *Machine) Disconnect() []Effect {
	var effs []Effect
	if m.pending {
		m.pending = false
		effs = append(effs, Effect{Kind: EffectCancelReconnect})
	}
	if m.heartbeat {
		m.heartbeat = false
		effs = append(effs, Effect{Kind: EffectStopHeartbeat})
	}
	if m.state == Connecting || m.state == Connected {
		effs = append(effs, Effect{Kind: EffectClose, Clean: true})
	}
	m.attempts = 0
	effs = m.enter(Disconnected, effs)
	return append(effs, Effect{Kind: EffectReject, Err: ErrClosed})
}
