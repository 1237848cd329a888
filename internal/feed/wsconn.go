package feed

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn carries a STOMP byte stream over websocket text messages, the
// framing Spring's /ws/websocket endpoint expects. Each Write is one
// message. Reads drain the current message, then move to the next, so a
// frame split across messages reassembles in the STOMP reader.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	cur          io.Reader
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
