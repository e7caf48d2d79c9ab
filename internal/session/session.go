// Package session runs one tunnel session over an accepted client channel:
// handshake, outbound dialing, relaying with stall recovery, or DNS
// tunneling for datagram sessions.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/wsgate/internal/channel"
	"github.com/die-net/wsgate/internal/dnstunnel"
	"github.com/die-net/wsgate/internal/header"
)

// ErrHandshakeTimeout is returned when no first message arrives in time.
var ErrHandshakeTimeout = errors.New("handshake timeout")

// Session is a single tunnel session. A Session is run once.
type Session struct {
	cfg Config
	ch  channel.Channel
	log *logrus.Entry

	msgs       chan []byte
	clientGone chan struct{}
	clientErr  error

	stream atomic.Pointer[stream]
}

func New(cfg Config, ch channel.Channel) *Session {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		cfg:        cfg,
		ch:         ch,
		log:        log,
		msgs:       make(chan []byte),
		clientGone: make(chan struct{}),
	}
}

// Run serves the session until the client goes away, the outbound side
// fails for good, or ctx is done. The channel is closed when Run returns.
//
// Handshake failures (authentication, malformed frame, forbidden address,
// no route) return an error after closing the channel without sending any
// bytes.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readClient(ctx)

	first, err := s.awaitFirst(ctx)
	if err != nil {
		s.closeChannel(channel.CloseSilent)
		if errors.Is(err, errClientGone) {
			return nil
		}
		return err
	}

	frame, err := header.Parse(first, s.cfg.Secret)
	if err != nil {
		s.rejectHandshake(err)
		return err
	}

	s.log = s.log.WithFields(logrus.Fields{
		"cmd":    frame.Command,
		"target": frame.Target(),
	})
	w := channel.NewResponseWriter(s.ch, frame.ResponseHeader())

	if frame.Command == header.CommandDatagram {
		return s.runDatagram(ctx, frame, w)
	}

	st := newStream(s, frame.Target(), w)
	s.stream.Store(st)
	return st.run(ctx, frame.Payload)
}

// State returns the current state.
func (s *Session) State() State {
	st := s.stream.Load()
	if st == nil {
		return StateHandshaking
	}
	return st.State()
}

var errClientGone = errors.New("client gone")

// readClient feeds client messages to s.msgs in arrival order.
func (s *Session) readClient(ctx context.Context) {
	defer close(s.clientGone)
	for {
		m, err := s.ch.ReadMessage()
		if err != nil {
			s.clientErr = err
			return
		}
		select {
		case s.msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) awaitFirst(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if s.cfg.HandshakeTimeout > 0 {
		t := time.NewTimer(s.cfg.HandshakeTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.clientGone:
		return nil, errClientGone
	case <-timeout:
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rejectHandshake closes the channel without a response.
func (s *Session) rejectHandshake(err error) {
	s.log.WithError(err).Debug("handshake rejected")
	if s.cfg.FailSilent {
		s.closeChannel(channel.CloseSilent)
		return
	}
	s.closeChannel(channel.CloseAbnormal)
}

func (s *Session) closeChannel(mode channel.CloseMode) {
	_ = s.ch.Close(mode)
}

func (s *Session) runDatagram(ctx context.Context, frame *header.Frame, w *channel.ResponseWriter) error {
	if s.cfg.Resolver == nil {
		err := errors.New("datagram session: no resolver configured")
		s.rejectHandshake(err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := dnstunnel.NewAdapter(s.cfg.Resolver, w, s.log)
	defer func() {
		cancel()
		a.Wait()
		queries, answers, failures := a.Stats()
		s.log.WithFields(logrus.Fields{
			"queries":  queries,
			"answers":  answers,
			"failures": failures,
		}).Debug("dns session closed")
	}()

	handle := func(m []byte) {
		if err := a.Handle(ctx, m); err != nil {
			s.log.WithError(err).Debug("dns frame dropped")
		}
	}

	handle(frame.Payload)
	for {
		select {
		case m := <-s.msgs:
			handle(m)
		case <-s.clientGone:
			s.closeChannel(channel.CloseGraceful)
			return nil
		case <-ctx.Done():
			s.closeChannel(channel.CloseGraceful)
			return nil
		}
	}
}
