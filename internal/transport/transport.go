// Package transport maintains the persistent event-stream connection to the
// backend. A pure Machine decides every transition; Transport carries out the
// resulting effects against a Dialer and delivers inbound events, in order,
// to a Dispatcher from a single goroutine.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vrsandeep/vidscribe/internal/clock"
	"github.com/vrsandeep/vidscribe/internal/events"
)

// Dispatcher receives delivered events. *events.Registry implements it.
type Dispatcher interface {
	Dispatch(events.Event)
}

// Options configures a Transport.
type Options struct {
	Dialer            Dialer
	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration // zero disables heartbeats
	SendBuffer        int           // outgoing frames buffered per connection
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Transport owns the single event-stream connection. All socket state is
// private; callers go through Connect, Disconnect, Send and State.
type Transport struct {
	dialer    Dialer
	heartbeat time.Duration
	sendBuf   int
	clock     clock.Clock
	log       *slog.Logger
	sink      Dispatcher
	mbox      *mailbox

	mu      sync.Mutex
	m       *Machine
	gen     uint64 // bumped whenever the current socket is abandoned
	conn    Conn
	outbox  chan []byte
	cancel  context.CancelFunc // aborts an in-flight dial
	waiters []chan error

	reconnectTimer clock.Timer
	reconnectSeq   uint64
	heartbeatTimer clock.Timer
	heartbeatSeq   uint64
}

// New returns a Disconnected transport that delivers events to sink once Run
// is started.
func New(opts Options, sink Dispatcher) *Transport {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Policy == (ReconnectPolicy{}) {
		opts.Policy = DefaultPolicy
	}
	return &Transport{
		dialer:    opts.Dialer,
		heartbeat: opts.HeartbeatInterval,
		sendBuf:   opts.SendBuffer,
		clock:     opts.Clock,
		log:       opts.Logger.With("component", "transport"),
		sink:      sink,
		mbox:      newMailbox(),
		m:         NewMachine(opts.Policy),
	}
}

// Run delivers queued events to the sink until ctx is done. Handlers run on
// this goroutine one event at a time.
func (t *Transport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.mbox.ready:
		}
		for {
			evt, ok := t.mbox.pop()
			if !ok {
				break
			}
			t.sink.Dispatch(evt)
		}
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m.State()
}

// Connect starts connecting unless already connected and waits until the
// transport is Connected, settles in Error, is disconnected, or ctx is done.
// Giving up on ctx does not abort the attempt.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	effs := t.m.Connect()
	if t.m.State() == Connected {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	t.waiters = append(t.waiters, ch)
	post := t.apply(effs)
	t.mu.Unlock()
	runAll(post)

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		t.mu.Lock()
		t.dropWaiter(ch)
		t.mu.Unlock()
		return ctx.Err()
	}
}

// Disconnect closes the connection cleanly and cancels pending timers. It
// never triggers a reconnect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	post := t.apply(t.m.Disconnect())
	t.mu.Unlock()
	runAll(post)
}

// Send queues p for transmission. Outside Connected, or when the outgoing
// buffer is full, the frame is dropped with a warning.
func (t *Transport) Send(p events.Payload) error {
	b, err := events.Encode(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueue(p.Kind(), b)
}

func (t *Transport) enqueue(kind events.Kind, b []byte) error {
	if t.m.State() != Connected || t.outbox == nil {
		t.log.Warn("dropping outgoing frame", "kind", kind, "state", t.m.State())
		return ErrNotConnected
	}
	select {
	case t.outbox <- b:
		return nil
	default:
		t.log.Warn("dropping outgoing frame", "kind", kind, "error", ErrSendBufferFull)
		return ErrSendBufferFull
	}
}

// apply performs effects. It runs with t.mu held and returns work that must
// run after the lock is released.
func (t *Transport) apply(effs []Effect) []func() {
	var post []func()
	for _, e := range effs {
		switch e.Kind {
		case EffectOpen:
			t.open()
		case EffectClose:
			if f := t.abandon(e.Clean); f != nil {
				post = append(post, f)
			}
		case EffectStartHeartbeat:
			t.scheduleHeartbeat()
		case EffectStopHeartbeat:
			t.heartbeatSeq++
			if t.heartbeatTimer != nil {
				t.heartbeatTimer.Stop()
				t.heartbeatTimer = nil
			}
		case EffectScheduleReconnect:
			t.reconnectSeq++
			seq := t.reconnectSeq
			t.log.Info("scheduling reconnect", "attempt", e.Attempt, "delay", e.Delay)
			t.reconnectTimer = t.clock.AfterFunc(e.Delay, func() { t.reconnectDue(seq) })
		case EffectCancelReconnect:
			t.reconnectSeq++
			if t.reconnectTimer != nil {
				t.reconnectTimer.Stop()
				t.reconnectTimer = nil
			}
		case EffectStateChanged:
			now := t.clock.Now()
			t.log.Debug("connection state changed", "state", e.State)
			t.mbox.push(events.Event{
				Kind:       events.KindConnection,
				Payload:    events.ConnectionChange{State: e.State, At: now},
				ReceivedAt: now,
			})
		case EffectResolve:
			t.settle(nil)
		case EffectReject:
			if e.Err != nil && !errors.Is(e.Err, ErrClosed) {
				t.log.Warn("event stream unavailable", "error", e.Err)
			}
			t.settle(e.Err)
		}
	}
	return post
}

func (t *Transport) open() {
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.dial(ctx, gen)
}

// abandon invalidates the current socket or dial attempt and returns the
// close call to run outside the lock.
func (t *Transport) abandon(clean bool) func() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	if conn == nil {
		return nil
	}
	t.conn = nil
	close(t.outbox)
	t.outbox = nil
	return func() {
		if err := conn.Close(clean); err != nil {
			t.log.Debug("closing socket", "error", err)
		}
	}
}

func (t *Transport) dial(ctx context.Context, gen uint64) {
	conn, err := t.dialer.Dial(ctx)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(true)
		}
		return
	}
	t.cancel = nil
	if err != nil {
		t.log.Warn("event stream dial failed", "error", err)
		post := t.apply(t.m.Closed(false, err))
		t.mu.Unlock()
		runAll(post)
		return
	}

	t.conn = conn
	t.outbox = make(chan []byte, t.sendBuf)
	out := t.outbox
	// The Connected event is queued before any frame from this socket.
	post := t.apply(t.m.Opened())
	if t.conn == conn {
		go t.writeLoop(conn, out, gen)
		go t.readLoop(conn, gen)
	}
	t.mu.Unlock()
	runAll(post)
}

func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		b, err := conn.ReadMessage()
		if err != nil {
			t.lost(gen, err)
			return
		}
		evt, err := events.Decode(b)
		if err != nil {
			t.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		evt.ReceivedAt = t.clock.Now()
		t.mbox.push(evt)
		t.mu.Unlock()
	}
}

func (t *Transport) writeLoop(conn Conn, out <-chan []byte, gen uint64) {
	for b := range out {
		if err := conn.WriteMessage(b); err != nil {
			t.lost(gen, err)
			return
		}
	}
}

// lost handles the end of the socket of generation gen.
func (t *Transport) lost(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	clean := false
	var ce *CloseError
	if errors.As(err, &ce) {
		clean = ce.Clean
	}
	if !clean {
		t.log.Warn("event stream lost", "error", err)
	}
	post := []func(){t.abandon(clean)}
	post = append(post, t.apply(t.m.Closed(clean, err))...)
	t.mu.Unlock()
	runAll(post)
}

func (t *Transport) reconnectDue(seq uint64) {
	t.mu.Lock()
	if seq != t.reconnectSeq {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = nil
	post := t.apply(t.m.ReconnectDue())
	t.mu.Unlock()
	runAll(post)
}

func (t *Transport) scheduleHeartbeat() {
	if t.heartbeat <= 0 {
		return
	}
	t.heartbeatSeq++
	seq := t.heartbeatSeq
	t.heartbeatTimer = t.clock.AfterFunc(t.heartbeat, func() { t.beat(seq) })
}

func (t *Transport) beat(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq != t.heartbeatSeq || t.m.State() != Connected {
		return
	}
	b, err := events.Encode(events.Heartbeat{Timestamp: t.clock.Now().UTC()})
	if err == nil {
		_ = t.enqueue(events.KindHeartbeat, b)
	}
	t.scheduleHeartbeat()
}

func (t *Transport) settle(err error) {
	for _, ch := range t.waiters {
		ch <- err
	}
	t.waiters = nil
}

func (t *Transport) dropWaiter(ch chan error) {
	for i, w := range t.waiters {
		if w == ch {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

func runAll(fs []func()) {
	for _, f := range fs {
		if f != nil {
			f()
		}
	}
}

// mailbox is an unbounded FIFO between the socket goroutines and Run.
type mailbox struct {
	mu    sync.Mutex
	queue []events.Event
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(evt events.Event) {
	m.mu.Lock()
	m.queue = append(m.queue, evt)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (events.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return events.Event{}, false
	}
	evt := m.queue[0]
	m.queue[0] = events.Event{}
	m.queue = m.queue[1:]
	return evt, true
}
