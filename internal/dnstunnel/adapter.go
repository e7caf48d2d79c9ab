package dnstunnel

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/wsgate/internal/channel"
)

// maxInflight bounds concurrent resolver requests per session.
const maxInflight = 64

// Adapter turns the client byte stream of a datagram session into resolver
// requests and writes framed answers back through w.
type Adapter struct {
	resolver Resolver
	w        channel.MessageWriter
	log      *logrus.Entry

	g        errgroup.Group
	queries  atomic.Int64
	answers  atomic.Int64
	failures atomic.Int64
}

// NewAdapter returns an Adapter writing to w, which is normally a
// channel.ResponseWriter so the first answer carries the response header.
func NewAdapter(resolver Resolver, w channel.MessageWriter, log *logrus.Entry) *Adapter {
	a := &Adapter{resolver: resolver, w: w, log: log}
	a.g.SetLimit(maxInflight)
	return a
}

// Handle starts one resolver request per frame in msg. Frames do not span
// messages; a truncated trailing frame is dropped and reported.
func (a *Adapter) Handle(ctx context.Context, msg []byte) error {
	frames, err := SplitFrames(msg)
	for _, q := range frames {
		query := append([]byte(nil), q...)
		a.queries.Add(1)
		a.g.Go(func() error {
			a.exchange(ctx, query)
			return nil
		})
	}
	return err
}

// Wait blocks until every started request finished.
func (a *Adapter) Wait() {
	_ = a.g.Wait()
}

// Stats returns the number of queries started, answers written and
// failed exchanges.
func (a *Adapter) Stats() (queries, answers, failures int64) {
	return a.queries.Load(), a.answers.Load(), a.failures.Load()
}

func (a *Adapter) exchange(ctx context.Context, query []byte) {
	log := a.log
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log = log.WithField("question", questionName(query))
	}

	answer, err := a.resolver.Resolve(ctx, query)
	if err != nil {
		a.failures.Add(1)
		if !errors.Is(err, context.Canceled) {
			log.WithError(err).Debug("dns query failed")
		}
		return
	}

	frame, err := AppendFrame(nil, answer)
	if err != nil {
		a.failures.Add(1)
		log.WithError(err).Debug("dropping dns answer")
		return
	}
	if err := a.w.WriteMessage(frame); err != nil {
		a.failures.Add(1)
		log.WithError(err).Debug("dns answer not delivered")
		return
	}
	a.answers.Add(1)
	log.Debug("dns answer delivered")
}

// questionName extracts the first question for logging; it does not reject
// unparsable queries, which are still forwarded.
func questionName(query []byte) string {
	var m dns.Msg
	if err := m.Unpack(query); err != nil || len(m.Question) == 0 {
		return "?"
	}
	return m.Question[0].Name + " " + dns.TypeToString[m.Question[0].Qtype]
}
