package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamDialer opens push-stream connections
type StreamDialer interface {
	Dial(ctx context.Context, streamURL string) (StreamConn, error)
}

// StreamConn is one live push-stream connection
type StreamConn interface {
	// ReadPayload blocks for the next text payload
	ReadPayload() ([]byte, error)
	Close() error
}

// StreamClosedError reports why a stream ended
type StreamClosedError struct {
	Code   int
	Reason string
	Err    error
}

func (e *StreamClosedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("closed with code %d", e.Code)
}

func (e *StreamClosedError) Unwrap() error {
	return e.Err
}

// WebsocketDialer dials streams with gorilla/websocket
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer; there is no handshake timeout, a pending dial ends only through its context
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 0,
		},
	}
}

// Dial opens a stream connection
func (d *WebsocketDialer) Dial(ctx context.Context, streamURL string) (StreamConn, error) {
	LogDebug("Dialing stream %s", RedactURL(streamURL))
	conn, resp, err := d.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		te := &TransportError{Op: "stream", Err: err}
		if resp != nil {
			te.Status = resp.StatusCode
			te.Detail = resp.Status
			te.Err = nil
			_ = resp.Body.Close()
		}
		return nil, te
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *websocketConn) ReadPayload() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &StreamClosedError{Code: ce.Code, Reason: ce.Text, Err: err}
			}
			return nil, &StreamClosedError{Code: websocket.CloseAbnormalClosure, Err: err}
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *websocketConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
