package gateway

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/die-net/wsgate/internal/channel"
)

// wsChannel adapts a websocket connection to channel.Channel. Early data
// from the upgrade request is returned as the first message.
type wsChannel struct {
	conn         *websocket.Conn
	early        []byte
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ channel.Channel = (*wsChannel)(nil)

func newWSChannel(conn *websocket.Conn, early []byte, writeTimeout time.Duration) *wsChannel {
	return &wsChannel{
		conn:         conn,
		early:        early,
		writeTimeout: writeTimeout,
	}
}

// ReadMessage is not safe for concurrent use.
func (c *wsChannel) ReadMessage() ([]byte, error) {
	if c.early != nil {
		m := c.early
		c.early = nil
		return m, nil
	}

	_, m, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, channel.ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return m, nil
}

func (c *wsChannel) WriteMessage(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return channel.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (c *wsChannel) Close(mode channel.CloseMode) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		code := websocket.CloseNormalClosure
		switch mode {
		case channel.CloseSilent:
			err = c.conn.Close()
			return
		case channel.CloseAbnormal:
			code = websocket.CloseInternalServerErr
		}

		deadline := time.Now().Add(time.Second)
		werr := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		err = errors.Join(werr, c.conn.Close())
	})
	return err
}
