package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/wsgate/internal/channel"
	"github.com/die-net/wsgate/internal/relay"
)

// ErrFatalChannel marks an outbound failure that is not retried.
var ErrFatalChannel = errors.New("fatal outbound error")

// pump is one outbound connection and the goroutine copying from it.
type pump struct {
	conn net.Conn
	done chan struct{}
	err  error
}

// stream relays a stream session and recovers from stalls and transient
// outbound failures by redialing the same target with the same plan.
//
// The controller loop in run owns every state transition. Two other
// goroutines touch shared fields under mu: the current pump, which reports
// received data, and the client forwarder.
type stream struct {
	s      *Session
	cfg    Config
	target string
	w      *channel.ResponseWriter
	flow   *relay.FlowController
	log    *logrus.Entry

	// writeMu serializes writes to the outbound connection so queued
	// client messages are flushed before newer ones.
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	out            net.Conn
	pending        [][]byte
	lastDataAt     time.Time
	bytesReceived  int64
	stallCount     int
	reconnectCount int
	reconnects     int

	cur *pump
}

func newStream(s *Session, target string, w *channel.ResponseWriter) *stream {
	return &stream{
		s:      s,
		cfg:    s.cfg,
		target: target,
		w:      w,
		flow:   relay.NewFlowController(),
		log:    s.log,
		state:  StateHandshaking,
	}
}

// State returns the current state.
func (st *stream) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Stats reports bytes received from the outbound side and completed
// reconnects.
func (st *stream) Stats() (bytesReceived int64, reconnects int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.bytesReceived, st.reconnects
}

func (st *stream) setState(s State) {
	st.mu.Lock()
	st.state = s
	st.mu.Unlock()
}

func (st *stream) run(ctx context.Context, payload []byte) error {
	conn, err := st.cfg.Dialer.DialContext(ctx, "tcp", st.target)
	if err != nil {
		st.setState(StateClosed)
		st.s.rejectHandshake(err)
		return err
	}
	if len(payload) > 0 {
		st.pending = append(st.pending, payload)
	}
	st.log.Debug("connected")

	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		st.forwardClient(ctx)
	}()

	err = st.loop(ctx, conn)

	st.teardown()
	<-fwdDone

	received, reconnects := st.Stats()
	st.log.WithFields(logrus.Fields{
		"received":   received,
		"reconnects": reconnects,
	}).Debug("stream session closed")
	return err
}

// loop is the controller. It returns after the channel has been closed.
func (st *stream) loop(ctx context.Context, conn net.Conn) error {
	keepalive := time.NewTicker(max(st.cfg.KeepAlive/3, time.Millisecond))
	defer keepalive.Stop()
	health := time.NewTicker(max(st.cfg.StallTimeout/2, time.Millisecond))
	defer health.Stop()

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()
	var retryC <-chan time.Time

	if err := st.attach(ctx, conn); err != nil {
		st.beginReconnect("initial write failed", err)
		retry.Reset(st.nextBackoff())
		retryC = retry.C
	}

	for {
		var pumpDone <-chan struct{}
		if st.cur != nil {
			pumpDone = st.cur.done
		}

		select {
		case <-ctx.Done():
			st.close(channel.CloseGraceful)
			return nil

		case <-st.s.clientGone:
			st.log.WithError(st.s.clientErr).Debug("client closed")
			st.close(channel.CloseGraceful)
			return nil

		case <-pumpDone:
			perr := st.cur.err
			switch {
			case ctx.Err() != nil:
				st.close(channel.CloseGraceful)
				return nil
			case errors.Is(perr, relay.ErrClientWrite):
				st.log.WithError(perr).Debug("client write failed")
				st.close(channel.CloseGraceful)
				return nil
			case relay.IsTransient(perr):
				reason := "outbound closed"
				if perr != nil {
					reason = "outbound reset"
				}
				st.beginReconnect(reason, perr)
				retry.Reset(st.nextBackoff())
				retryC = retry.C
			default:
				st.log.WithError(perr).Warn("outbound failed")
				st.close(channel.CloseAbnormal)
				return errors.Join(ErrFatalChannel, perr)
			}

		case <-keepalive.C:
			st.keepalive()

		case <-health.C:
			if st.checkHealth() {
				st.beginReconnect("stalled", nil)
				retry.Reset(st.nextBackoff())
				retryC = retry.C
			}

		case <-retryC:
			retryC = nil
			ok, again := st.reconnect(ctx)
			if ok {
				continue
			}
			if !again {
				st.log.Info("reconnect budget exhausted")
				st.close(channel.CloseGraceful)
				return nil
			}
			retry.Reset(st.cfg.RetryDelay)
			retryC = retry.C
		}
	}
}

// attach makes conn the outbound connection: queued client messages are
// flushed to it first, then a pump starts copying from it.
func (st *stream) attach(ctx context.Context, conn net.Conn) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	st.mu.Unlock()

	for i, m := range pending {
		if err := relay.WritePayload(conn, m); err != nil {
			st.mu.Lock()
			st.pending = append(pending[i:], st.pending...)
			st.mu.Unlock()
			_ = conn.Close()
			return err
		}
	}

	p := &pump{conn: conn, done: make(chan struct{})}
	st.mu.Lock()
	st.out = conn
	st.state = StateRelaying
	st.stallCount = 0
	st.lastDataAt = time.Now()
	st.mu.Unlock()
	st.cur = p

	go func() {
		defer close(p.done)
		p.err = relay.Pump(ctx, conn, st.w, st.flow, st.onData)
	}()
	return nil
}

// detach closes the current outbound connection and waits for its pump.
func (st *stream) detach() {
	st.mu.Lock()
	st.out = nil
	st.mu.Unlock()

	if st.cur == nil {
		return
	}
	_ = st.cur.conn.Close()
	<-st.cur.done
	st.cur = nil
}

func (st *stream) beginReconnect(reason string, err error) {
	st.detach()
	st.setState(StateReconnecting)
	st.log.WithError(err).WithField("reason", reason).Info("reconnecting")
}

func (st *stream) nextBackoff() time.Duration {
	st.mu.Lock()
	n := st.reconnectCount
	st.mu.Unlock()
	return backoff(n, st.cfg.BackoffBase, st.cfg.BackoffJitter, st.cfg.BackoffMax)
}

// reconnect runs one attempt. ok reports a new connection is relaying;
// again reports whether another attempt is allowed after a failure.
func (st *stream) reconnect(ctx context.Context) (ok, again bool) {
	st.mu.Lock()
	st.reconnectCount++
	n := st.reconnectCount
	st.mu.Unlock()

	if n > st.cfg.MaxReconnect {
		return false, false
	}
	select {
	case <-st.s.clientGone:
		return false, false
	default:
	}

	log := st.log.WithField("attempt", n)
	conn, err := st.cfg.Dialer.DialContext(ctx, "tcp", st.target)
	if err != nil {
		log.WithError(err).Info("reconnect failed")
		return false, ctx.Err() == nil
	}
	if err := st.attach(ctx, conn); err != nil {
		log.WithError(err).Info("reconnect flush failed")
		return false, ctx.Err() == nil
	}

	st.mu.Lock()
	st.reconnects++
	st.mu.Unlock()
	log.Info("reconnected")
	return true, true
}

// onData runs on the pump goroutine after each chunk reached the client.
func (st *stream) onData(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.bytesReceived += int64(n)
	st.lastDataAt = time.Now()
	st.stallCount = 0
	st.reconnectCount = 0
	if st.state == StateStalled {
		st.state = StateRelaying
	}
}

// checkHealth counts a stall when data has flowed before but not within
// StallTimeout. It reports whether the stall limit was reached.
func (st *stream) checkHealth() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state != StateRelaying && st.state != StateStalled {
		return false
	}
	if st.bytesReceived == 0 || time.Since(st.lastDataAt) <= st.cfg.StallTimeout {
		return false
	}
	st.stallCount++
	st.state = StateStalled
	return st.stallCount >= st.cfg.MaxStall
}

// keepalive writes a zero-length message once no data was seen for KeepAlive.
// Nothing is written while a client write is in progress.
func (st *stream) keepalive() {
	st.mu.Lock()
	out := st.out
	idle := time.Since(st.lastDataAt) > st.cfg.KeepAlive
	st.mu.Unlock()

	if out == nil || !idle || !st.writeMu.TryLock() {
		return
	}
	defer st.writeMu.Unlock()

	_, _ = out.Write(nil)
}

// forwardClient writes client messages to the outbound connection in
// arrival order. Messages arriving without a usable connection are queued
// for the next one.
func (st *stream) forwardClient(ctx context.Context) {
	for {
		select {
		case m := <-st.s.msgs:
			st.forward(m)
		case <-st.s.clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (st *stream) forward(m []byte) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	st.mu.Lock()
	st.lastDataAt = time.Now()
	out := st.out
	if out == nil {
		st.pending = append(st.pending, m)
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	if _, err := out.Write(m); err != nil {
		st.mu.Lock()
		st.pending = append(st.pending, m)
		st.mu.Unlock()
	}
}

// teardown releases the outbound side. It is called once, after the
// controller loop returned.
func (st *stream) teardown() {
	st.detach()
	st.setState(StateClosed)
}

// close shuts the client channel before the outbound side, so a pump
// blocked writing to the client fails instead of holding up detach.
func (st *stream) close(mode channel.CloseMode) {
	st.setState(StateClosed)
	st.s.closeChannel(mode)
	st.detach()
}
