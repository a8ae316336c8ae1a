package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = ReconnectPolicy{
	Base:        100 * time.Millisecond,
	Multiplier:  2,
	Cap:         time.Second,
	MaxAttempts: 3,
}

func kinds(effs []Effect) []EffectKind {
	out := make([]EffectKind, len(effs))
	for i, e := range effs {
		out[i] = e.Kind
	}
	return out
}

func states(effs []Effect) []State {
	var out []State
	for _, e := range effs {
		if e.Kind == EffectStateChanged {
			out = append(out, e.State)
		}
	}
	return out
}

func find(effs []Effect, k EffectKind) (Effect, bool) {
	for _, e := range effs {
		if e.Kind == k {
			return e, true
		}
	}
	return Effect{}, false
}

func TestPolicyDelay(t *testing.T) {
	p := ReconnectPolicy{Base: time.Second, Multiplier: 2, Cap: 30 * time.Second}
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, p.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 30*time.Second, p.Delay(5000), "huge attempts stay capped")

	prev := time.Duration(0)
	for attempt := 0; attempt < 100; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Cap)
		prev = d
	}

	flat := ReconnectPolicy{Base: time.Second, Multiplier: 0.5}
	assert.Equal(t, time.Second, flat.Delay(3), "multipliers below one never shrink the delay")
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy.Validate())
	assert.Error(t, ReconnectPolicy{Multiplier: 2}.Validate())
	assert.Error(t, ReconnectPolicy{Base: time.Second, Multiplier: 0.5}.Validate())
	assert.Error(t, ReconnectPolicy{Base: time.Minute, Multiplier: 2, Cap: time.Second}.Validate())
}

func TestMachineConnectOpen(t *testing.T) {
	m := NewMachine(testPolicy)
	assert.Equal(t, Disconnected, m.State())

	effs := m.Connect()
	assert.Equal(t, []EffectKind{EffectStateChanged, EffectOpen}, kinds(effs))
	assert.Equal(t, Connecting, m.State())

	assert.Nil(t, m.Connect(), "connect while connecting joins the attempt")

	effs = m.Opened()
	assert.Equal(t, []EffectKind{EffectStateChanged, EffectStartHeartbeat, EffectResolve}, kinds(effs))
	assert.Equal(t, Connected, m.State())

	assert.Equal(t, []EffectKind{EffectResolve}, kinds(m.Connect()), "connect while connected is a no-op")
}

func TestMachineReconnectCycleWhileHealthy(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	m.Opened()

	var seen []State
	for i := 0; i < 5; i++ {
		effs := m.Closed(false, errors.New("reset"))
		seen = append(seen, states(effs)...)
		sched, ok := find(effs, EffectScheduleReconnect)
		require.True(t, ok)
		assert.Equal(t, testPolicy.Base, sched.Delay, "a successful open resets the backoff")
		_, ok = find(effs, EffectStopHeartbeat)
		assert.True(t, ok)

		seen = append(seen, states(m.ReconnectDue())...)
		seen = append(seen, states(m.Opened())...)
	}
	for i := 0; i < len(seen); i += 3 {
		assert.Equal(t, []State{Disconnected, Connecting, Connected}, seen[i:i+3])
	}
}

func TestMachineBackoffAndExhaustion(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()

	var delays []time.Duration
	for i := 0; i < testPolicy.MaxAttempts; i++ {
		effs := m.Closed(false, errors.New("refused"))
		assert.Equal(t, []State{Disconnected}, states(effs))
		sched, ok := find(effs, EffectScheduleReconnect)
		require.True(t, ok)
		assert.Equal(t, i+1, sched.Attempt)
		delays = append(delays, sched.Delay)

		assert.Equal(t, []State{Connecting}, states(m.ReconnectDue()))
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)

	cause := errors.New("refused")
	effs := m.Closed(false, cause)
	assert.Equal(t, Error, m.State())
	_, scheduled := find(effs, EffectScheduleReconnect)
	assert.False(t, scheduled)
	rej, ok := find(effs, EffectReject)
	require.True(t, ok)
	assert.ErrorIs(t, rej.Err, ErrReconnectExhausted)
	assert.ErrorIs(t, rej.Err, cause)
	var terr *TransportError
	assert.ErrorAs(t, rej.Err, &terr)

	assert.Nil(t, m.ReconnectDue(), "no automatic attempt after exhaustion")
	assert.Nil(t, m.Closed(false, cause))
	assert.Equal(t, Error, m.State())

	effs = m.Connect()
	assert.Equal(t, []State{Connecting}, states(effs), "manual connect leaves Error")
	assert.Zero(t, m.Attempts())
}

func TestMachineDelaysCapped(t *testing.T) {
	p := ReconnectPolicy{Base: 300 * time.Millisecond, Multiplier: 3, Cap: time.Second, MaxAttempts: -1}
	m := NewMachine(p)
	m.Connect()
	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		sched, ok := find(m.Closed(false, nil), EffectScheduleReconnect)
		require.True(t, ok, "negative MaxAttempts retries forever")
		assert.GreaterOrEqual(t, sched.Delay, prev)
		assert.LessOrEqual(t, sched.Delay, p.Cap)
		prev = sched.Delay
		m.ReconnectDue()
	}
}

func TestMachineCleanCloseDoesNotReconnect(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	m.Opened()

	effs := m.Closed(true, nil)
	assert.Equal(t, Disconnected, m.State())
	_, scheduled := find(effs, EffectScheduleReconnect)
	assert.False(t, scheduled)
	rej, _ := find(effs, EffectReject)
	assert.ErrorIs(t, rej.Err, ErrClosedByPeer)
	assert.Nil(t, m.ReconnectDue())
}

func TestMachineDisconnect(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	m.Opened()

	effs := m.Disconnect()
	assert.Equal(t,
		[]EffectKind{EffectStopHeartbeat, EffectClose, EffectStateChanged, EffectReject},
		kinds(effs))
	c, _ := find(effs, EffectClose)
	assert.True(t, c.Clean)
	assert.Equal(t, Disconnected, m.State())

	// The socket's own close event arrives afterwards and must be ignored.
	assert.Nil(t, m.Closed(false, errors.New("eof")))
	assert.Nil(t, m.ReconnectDue())
	assert.Equal(t, Disconnected, m.State())
}

func TestMachineDisconnectCancelsPendingReconnect(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	m.Opened()
	m.Closed(false, nil)
	require.True(t, m.ReconnectPending())

	effs := m.Disconnect()
	_, cancelled := find(effs, EffectCancelReconnect)
	assert.True(t, cancelled)
	assert.False(t, m.ReconnectPending())
	assert.Nil(t, m.ReconnectDue())
	assert.Zero(t, m.Attempts())
}

func TestMachineDisconnectWhileConnecting(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	effs := m.Disconnect()
	c, ok := find(effs, EffectClose)
	require.True(t, ok)
	assert.True(t, c.Clean)

	// The dial finishes after the cancellation.
	effs = m.Opened()
	assert.Equal(t, []EffectKind{EffectClose}, kinds(effs))
	assert.Equal(t, Disconnected, m.State())
}

func TestMachineManualConnectDuringBackoff(t *testing.T) {
	m := NewMachine(testPolicy)
	m.Connect()
	m.Closed(false, nil)
	m.ReconnectDue()
	m.Closed(false, nil)
	require.Equal(t, 2, m.Attempts())

	effs := m.Connect()
	assert.Equal(t, []EffectKind{EffectCancelReconnect, EffectStateChanged, EffectOpen}, kinds(effs))
	assert.Equal(t, 2, m.Attempts(), "backoff continues until a connection succeeds")
}
