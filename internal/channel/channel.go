// Package channel defines the message-framed client connection a tunnel
// session runs over.
package channel

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a channel that has been closed.
var ErrClosed = errors.New("channel closed")

// CloseMode selects how a channel is closed.
type CloseMode int

const (
	// CloseGraceful sends a normal closure.
	CloseGraceful CloseMode = iota
	// CloseAbnormal sends a generic abnormal closure.
	CloseAbnormal
	// CloseSilent drops the transport without sending anything.
	CloseSilent
)

func (m CloseMode) String() string {
	switch m {
	case CloseGraceful:
		return "graceful"
	case CloseAbnormal:
		return "abnormal"
	case CloseSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// MessageWriter sends one message to the client.
type MessageWriter interface {
	WriteMessage(p []byte) error
}

// Channel is a bidirectional, order-preserving, message-framed client
// connection. ReadMessage is called from one goroutine; WriteMessage must be
// safe for concurrent use.
type Channel interface {
	MessageWriter
	ReadMessage() ([]byte, error)
	Close(mode CloseMode) error
}

// ResponseWriter prepends a fixed header to the first message written
// through it and passes later messages through unchanged.
type ResponseWriter struct {
	w      MessageWriter
	header []byte

	mu      sync.Mutex
	sent    bool
	written int64
}

func NewResponseWriter(w MessageWriter, header []byte) *ResponseWriter {
	return &ResponseWriter{w: w, header: header}
}

// WriteMessage writes p, combined with the header if it has not been sent
// yet. Calls are serialized so the header always precedes the first payload.
func (r *ResponseWriter) WriteMessage(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := p
	if !r.sent {
		msg = make([]byte, 0, len(r.header)+len(p))
		msg = append(msg, r.header...)
		msg = append(msg, p...)
	}
	if err := r.w.WriteMessage(msg); err != nil {
		return err
	}
	r.sent = true
	r.written += int64(len(p))
	return nil
}

// HeaderSent reports whether the header has gone out.
func (r *ResponseWriter) HeaderSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Written returns the number of payload bytes written, excluding the header.
func (r *ResponseWriter) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
