// Package gateway accepts websocket upgrades and runs a tunnel session on
// each one. Routing parameters in the request URL choose how the session
// dials its target.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/die-net/wsgate/internal/dialer"
	"github.com/die-net/wsgate/internal/session"
)

type Config struct {
	// Session is the template for every session's configuration. Its
	// Dialer and Log are set per request.
	Session session.Config
	Dial    dialer.Config
	// Route is used when a request carries no routing parameters.
	Route dialer.Route

	UpgradeTimeout time.Duration
	// WriteTimeout bounds each message written to the client.
	WriteTimeout time.Duration

	Log *logrus.Entry
}

// Server is an http.Handler that upgrades websocket requests into tunnel
// sessions. Other requests get a plain 200.
type Server struct {
	ctx      context.Context
	cfg      Config
	log      *logrus.Entry
	upgrader websocket.Upgrader
	active   atomic.Int64
}

// NewServer returns a Server whose sessions end when ctx is done.
func NewServer(ctx context.Context, cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		ctx: ctx,
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.UpgradeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// Active returns the number of running sessions.
func (s *Server) Active() int64 {
	return s.active.Load()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"remote":  r.RemoteAddr,
		"session": uuid.NewString(),
	})

	route, err := ParseRoute(r.URL, s.cfg.Route)
	if err != nil {
		log.WithError(err).Debug("bad routing parameters")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	plan, err := dialer.NewPlan(s.cfg.Dial, route)
	if err != nil {
		log.WithError(err).Debug("bad route")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var respHeader http.Header
	early := earlyData(r)
	if proto := r.Header.Get(earlyDataHeader); proto != "" {
		// Browsers fail the upgrade unless the offered protocol is echoed.
		respHeader = http.Header{earlyDataHeader: {proto}}
	}

	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade has already replied.
		log.WithError(err).Debug("upgrade failed")
		return
	}

	chain := dialer.NewChain(s.cfg.Dial, plan)
	chain.OnAttempt = func(st dialer.Strategy) {
		log.WithField("strategy", st.String()).Debug("dialing")
	}

	cfg := s.cfg.Session
	cfg.Dialer = chain
	cfg.Log = log.WithField("plan", chain.Plan().String())

	cfg.Log.WithField("active", s.active.Add(1)).Debug("session started")
	defer s.active.Add(-1)

	ch := newWSChannel(conn, early, s.cfg.WriteTimeout)
	err = session.New(cfg, ch).Run(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.WithError(err).Debug("session ended")
	}
}
