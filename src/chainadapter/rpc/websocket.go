package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient implements Client over a WebSocket transport and additionally
// supports server-push subscriptions. Reconnection is automatic with
// exponential backoff.
type WSClient struct {
	url       string
	conn      *websocket.Conn
	connMu    sync.RWMutex
	requestID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *Response

	subsMu        sync.Mutex
	subscriptions map[string]chan json.RawMessage

	closed    atomic.Bool
	closeChan chan struct{}

	reconnectBackoff     time.Duration
	maxReconnectInterval time.Duration
}

// NewWSClient dials the WebSocket endpoint and starts the read loop.
func NewWSClient(url string) (*WSClient, error) {
	c := &WSClient{
		url:                  url,
		pending:              make(map[int64]chan *Response),
		subscriptions:        make(map[string]chan json.RawMessage),
		closeChan:            make(chan struct{}),
		reconnectBackoff:     time.Second,
		maxReconnectInterval: 60 * time.Second,
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Call executes a single JSON-RPC call over the socket.
func (c *WSClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("websocket client is closed")
	}

	id := c.requestID.Add(1)
	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("websocket not connected")
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeChan:
		return nil, fmt.Errorf("websocket client closed")
	}
}

// CallBatch executes the calls sequentially; WebSocket JSON-RPC batching
// is not universally supported by nodes.
func (c *WSClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(requests))
	for i, req := range requests {
		result, err := c.Call(ctx, req.Method, req.Params)
		if err != nil {
			return nil, err
		}
		results[i] = result
	}
	return results, nil
}

// Subscribe registers a notification channel for a subscription id
// previously returned by the node. The caller owns channel draining.
func (c *WSClient) Subscribe(subscriptionID string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 64)
	c.subsMu.Lock()
	c.subscriptions[subscriptionID] = ch
	c.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (c *WSClient) Unsubscribe(subscriptionID string) {
	c.subsMu.Lock()
	if ch, ok := c.subscriptions[subscriptionID]; ok {
		delete(c.subscriptions, subscriptionID)
		close(ch)
	}
	c.subsMu.Unlock()
}

// Close shuts the socket down and fails all pending calls.
func (c *WSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeChan)

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// wsNotification is the server-push envelope for subscription messages.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

func (c *WSClient) readLoop() {
	backoff := c.reconnectBackoff
	for !c.closed.Load() {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			if !c.reconnect(&backoff) {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnect(&backoff) {
				return
			}
			continue
		}
		backoff = c.reconnectBackoff
		c.dispatch(data)
	}
}

func (c *WSClient) reconnect(backoff *time.Duration) bool {
	select {
	case <-c.closeChan:
		return false
	case <-time.After(*backoff):
	}
	if *backoff < c.maxReconnectInterval {
		*backoff *= 2
	}
	if err := c.connect(); err != nil {
		return !c.closed.Load()
	}
	return true
}

func (c *WSClient) dispatch(data []byte) {
	// Responses to calls carry an id; subscription pushes carry a method.
	var resp Response
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
		return
	}

	var note wsNotification
	if err := json.Unmarshal(data, &note); err == nil && note.Params.Subscription != "" {
		c.subsMu.Lock()
		ch, ok := c.subscriptions[note.Params.Subscription]
		c.subsMu.Unlock()
		if ok {
			select {
			case ch <- note.Params.Result:
			default: // drop rather than block the read loop
			}
		}
	}
}
