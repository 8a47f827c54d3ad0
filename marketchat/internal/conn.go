package internal

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn wraps websocket.Conn with timeouts.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// DialFirst dials candidate endpoints in order and returns a Conn for the
// first one that accepts the socket. This is the transport negotiation:
// callers list their preferred endpoint first and fallbacks after it.
func DialFirst(ctx context.Context, endpoints []string, readTimeout, writeTimeout time.Duration) (*Conn, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no endpoints")
	}
	var lastErr error
	for _, ep := range endpoints {
		u, err := url.Parse(ep)
		if err != nil {
			lastErr = err
			continue
		}
		ws, _, err := websocket.Dial(ctx, u.String(), nil)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return NewConn(ws, readTimeout, writeTimeout), nil
	}
	return nil, lastErr
}

func (c *Conn) Read(ctx context.Context, v any) error {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	return wsjson.Read(ctx, c.ws, v)
}

func (c *Conn) Write(ctx context.Context, v any) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, c.ws, v)
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
