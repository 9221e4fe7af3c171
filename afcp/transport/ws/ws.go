// Package ws implements afcp.Transport over a long-lived WebSocket
// connection per agent endpoint, for agents that prefer a persistent duplex
// channel over a request-per-call HTTP POST (e.g. to support push-style
// cancellation notices from the agent side).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/dkossnick/hearthctl/afcp"
)

// envelope is the wire frame exchanged over the socket: a capability-tagged
// request paired by id with its reply.
type envelope struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// conn wraps one dialed *websocket.Conn with the bookkeeping needed to
// correlate concurrent Send calls against a single duplex stream: a
// dedicated read loop fans incoming envelopes out to the waiter matching
// their id.
type conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	waiters map[string]chan envelope
	closed  bool
	readErr error
}

// Transport dispatches afcp.Send calls over per-endpoint WebSocket
// connections, dialing lazily on first use and reusing the connection for
// subsequent calls to the same endpoint.
type Transport struct {
	dialOpts *websocket.DialOptions

	mu    sync.Mutex
	conns map[string]*conn
	seq   uint64
}

// New builds a Transport. dialOpts is forwarded to websocket.Dial for every
// endpoint; pass nil to accept coder/websocket's defaults.
func New(dialOpts *websocket.DialOptions) *Transport {
	if dialOpts == nil {
		dialOpts = &websocket.DialOptions{}
	}
	return &Transport{dialOpts: dialOpts, conns: make(map[string]*conn)}
}

// Send implements afcp.Transport: it dials (or reuses) a connection to
// endpoint, writes a JSON envelope carrying payload, and blocks until the
// matching reply envelope arrives or ctx is done.
func (t *Transport) Send(ctx context.Context, endpoint, capability string, payload []byte) ([]byte, error) {
	c, err := t.connFor(ctx, endpoint)
	if err != nil {
		return nil, &afcp.TransportError{Kind: afcp.TransportRefused, Message: "dial agent endpoint", Cause: err}
	}

	id := t.nextID()
	wait := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.forget(endpoint, c)
		return nil, afcp.NewTransportError(afcp.TransportRefused, "connection closed")
	}
	c.waiters[id] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	req := envelope{ID: id, Capability: capability, Payload: json.RawMessage(payload)}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, afcp.NewTransportError(afcp.TransportProtocol, "marshal request envelope")
	}

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.forget(endpoint, c)
		return nil, classifyError(ctx, err, "write request")
	}

	select {
	case <-ctx.Done():
		return nil, classifyError(ctx, ctx.Err(), "await reply")
	case reply, ok := <-wait:
		if !ok {
			return nil, afcp.NewTransportError(afcp.TransportRefused, "connection closed before reply")
		}
		if reply.Error != "" {
			return nil, afcp.NewTransportError(afcp.TransportRefused, reply.Error)
		}
		return []byte(reply.Payload), nil
	}
}

// Close shuts down every connection the Transport currently owns.
func (t *Transport) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*conn)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusNormalClosure, "transport closed")
	}
}

func (t *Transport) connFor(ctx context.Context, endpoint string) (*conn, error) {
	t.mu.Lock()
	if c, ok := t.conns[endpoint]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	wsConn, _, err := websocket.Dial(ctx, endpoint, t.dialOpts)
	if err != nil {
		return nil, err
	}

	c := &conn{ws: wsConn, waiters: make(map[string]chan envelope)}
	t.mu.Lock()
	t.conns[endpoint] = c
	t.mu.Unlock()

	go c.readLoop()
	return c, nil
}

func (t *Transport) forget(endpoint string, c *conn) {
	t.mu.Lock()
	if t.conns[endpoint] == c {
		delete(t.conns, endpoint)
	}
	t.mu.Unlock()
}

func (t *Transport) nextID() string {
	t.mu.Lock()
	t.seq++
	id := t.seq
	t.mu.Unlock()
	return fmt.Sprintf("%x", id)
}

// readLoop fans every incoming envelope out to the waiter registered under
// its id. An unmatched envelope (reply arrives after Send already gave up
// waiting) is dropped.
func (c *conn) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.readErr = err
			waiters := c.waiters
			c.waiters = nil
			c.mu.Unlock()
			for _, w := range waiters {
				close(w)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		w, ok := c.waiters[env.ID]
		c.mu.Unlock()
		if ok {
			w <- env
		}
	}
}

func classifyError(ctx context.Context, err error, message string) error {
	if ctx.Err() != nil {
		return &afcp.TransportError{Kind: afcp.TransportTimeout, Message: message, Cause: err}
	}
	return &afcp.TransportError{Kind: afcp.TransportRefused, Message: message, Cause: err}
}
