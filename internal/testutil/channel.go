package testutil

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/die-net/wsgate/internal/channel"
)

// Channel is an in-memory channel.Channel. The test plays the client with
// Send, CloseClient and Next.
type Channel struct {
	in         chan []byte
	out        chan []byte
	clientGone chan struct{}
	closed     chan struct{}

	goneOnce  sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	mode      channel.CloseMode
	writes    int
}

func NewChannel() *Channel {
	return &Channel{
		in:         make(chan []byte, 64),
		out:        make(chan []byte, 4096),
		clientGone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Send delivers a client message.
func (c *Channel) Send(msg []byte) {
	c.in <- msg
}

// CloseClient makes ReadMessage return io.EOF once queued messages drain.
func (c *Channel) CloseClient() {
	c.goneOnce.Do(func() { close(c.clientGone) })
}

func (c *Channel) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, channel.ErrClosed
	case <-c.clientGone:
		select {
		case m := <-c.in:
			return m, nil
		default:
			return nil, io.EOF
		}
	}
}

func (c *Channel) WriteMessage(p []byte) error {
	select {
	case <-c.closed:
		return channel.ErrClosed
	default:
	}

	c.mu.Lock()
	c.writes++
	c.mu.Unlock()

	c.out <- append([]byte(nil), p...)
	return nil
}

func (c *Channel) Close(mode channel.CloseMode) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.mode = mode
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Closed is closed once the gateway closes the channel.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Mode returns how the channel was closed.
func (c *Channel) Mode() channel.CloseMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Writes returns how many messages the gateway sent.
func (c *Channel) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Next waits for the next message sent by the gateway.
func (c *Channel) Next(t *testing.T, timeout time.Duration) []byte {
	t.Helper()

	select {
	case m := <-c.out:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// WaitClosed waits for the gateway to close the channel.
func (c *Channel) WaitClosed(t *testing.T, timeout time.Duration) channel.CloseMode {
	t.Helper()

	select {
	case <-c.closed:
		return c.Mode()
	case <-time.After(timeout):
		t.Fatal("timed out waiting for close")
		return 0
	}
}
