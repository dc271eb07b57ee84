package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrConnClosed is returned for calls issued on or interrupted by a closed
// connection.
var ErrConnClosed = errors.New("acp: connection closed")

// JSON-RPC error codes used on the wire.
const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// RPCError is a JSON-RPC error object returned by the agent.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("acp: rpc error %d: %s", e.Code, e.Message)
}

// Handler receives inbound calls from the agent. SessionUpdate is invoked
// synchronously from the read loop in strict arrival order; it must not
// block. RequestPermission is invoked on its own goroutine and may suspend
// indefinitely waiting for a decision — the read loop keeps running.
type Handler interface {
	SessionUpdate(ctx context.Context, note *SessionNotification)
	RequestPermission(ctx context.Context, req *RequestPermissionRequest) (*RequestPermissionResponse, error)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Conn is a client-side ACP connection over a newline-delimited JSON
// stream. It multiplexes outbound requests by id and dispatches inbound
// traffic to the Handler.
type Conn struct {
	stream  io.ReadWriteCloser
	handler Handler
	onClose func(error)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *rpcMessage
	closed  bool

	done chan struct{}
}

// NewConn wraps stream and starts the read loop. onClose is invoked once
// when the read loop exits, with the error that ended it (nil on clean
// Close). It may be nil.
func NewConn(stream io.ReadWriteCloser, handler Handler, onClose func(error)) *Conn {
	c := &Conn{
		stream:  stream,
		handler: handler,
		onClose: onClose,
		pending: make(map[int64]chan *rpcMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close tears down the underlying stream. Pending calls fail with
// ErrConnClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.stream.Close(); err != nil {
		return fmt.Errorf("acp.Conn.Close: %w", err)
	}
	return nil
}

// Call performs an outbound request and decodes the agent's result into
// result (which may be nil for callers ignoring the payload).
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("acp.Conn.Call %s: %w", method, ErrConnClosed)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(&rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: mustMarshal(params)}); err != nil {
		return fmt.Errorf("acp.Conn.Call %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("acp.Conn.Call %s: %w", method, ErrConnClosed)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("acp.Conn.Call %s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("acp.Conn.Call %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a fire-and-forget notification (no id, no reply).
func (c *Conn) Notify(_ context.Context, method string, params any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("acp.Conn.Notify %s: %w", method, ErrConnClosed)
	}
	c.mu.Unlock()

	if err := c.write(&rpcMessage{JSONRPC: "2.0", Method: method, Params: mustMarshal(params)}); err != nil {
		return fmt.Errorf("acp.Conn.Notify %s: %w", method, err)
	}
	return nil
}

// Typed outbound surface.

func (c *Conn) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.Call(ctx, "initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) NewSession(ctx context.Context, req *NewSessionRequest) (*NewSessionResponse, error) {
	var resp NewSessionResponse
	if err := c.Call(ctx, "session/new", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) LoadSession(ctx context.Context, req *LoadSessionRequest) (*LoadSessionResponse, error) {
	var resp LoadSessionResponse
	if err := c.Call(ctx, "session/load", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	var resp ListSessionsResponse
	if err := c.Call(ctx, "session/list", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) ForkSession(ctx context.Context, req *ForkSessionRequest) (*ForkSessionResponse, error) {
	var resp ForkSessionResponse
	if err := c.Call(ctx, "session/fork", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) ResumeSession(ctx context.Context, req *ResumeSessionRequest) (*ResumeSessionResponse, error) {
	var resp ResumeSessionResponse
	if err := c.Call(ctx, "session/resume", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) SetSessionMode(ctx context.Context, req *SetSessionModeRequest) (*SetSessionModeResponse, error) {
	var resp SetSessionModeResponse
	if err := c.Call(ctx, "session/set_mode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) Prompt(ctx context.Context, req *PromptRequest) (*PromptResponse, error) {
	var resp PromptResponse
	if err := c.Call(ctx, "session/prompt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Conn) Cancel(ctx context.Context, note *CancelNotification) error {
	return c.Notify(ctx, "session/cancel", note)
}

func (c *Conn) write(msg *rpcMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stream.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	scanner := bufio.NewScanner(c.stream)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn().Err(err).Msg("acp: dropping malformed frame")
			continue
		}

		switch {
		case msg.Method != "" && msg.ID == nil:
			c.dispatchNotification(&msg)
		case msg.Method != "":
			c.dispatchRequest(&msg)
		case msg.ID != nil:
			c.settleCall(&msg)
		default:
			log.Warn().Msg("acp: dropping frame with neither method nor id")
		}
	}

	err := scanner.Err()
	c.shutdown(err)
}

func (c *Conn) dispatchNotification(msg *rpcMessage) {
	if msg.Method != "session/update" {
		log.Debug().Str("method", msg.Method).Msg("acp: ignoring unknown notification")
		return
	}

	var note SessionNotification
	if err := json.Unmarshal(msg.Params, &note); err != nil {
		log.Warn().Err(err).Msg("acp: dropping malformed session/update")
		return
	}

	// Synchronous dispatch keeps arrival order.
	c.handler.SessionUpdate(context.Background(), &note)
}

func (c *Conn) dispatchRequest(msg *rpcMessage) {
	id := *msg.ID

	if msg.Method != "session/request_permission" {
		c.respondError(id, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method})
		return
	}

	var req RequestPermissionRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		c.respondError(id, &RPCError{Code: codeInternalError, Message: "malformed params: " + err.Error()})
		return
	}

	// The reply may be suspended indefinitely pending a human decision, so
	// the request runs off the read loop.
	go func() {
		resp, err := c.handler.RequestPermission(context.Background(), &req)
		if err != nil {
			c.respondError(id, &RPCError{Code: codeInternalError, Message: err.Error()})
			return
		}
		c.respondResult(id, resp)
	}()
}

func (c *Conn) respondResult(id int64, result any) {
	if err := c.write(&rpcMessage{JSONRPC: "2.0", ID: &id, Result: mustMarshal(result)}); err != nil {
		log.Debug().Err(err).Int64("id", id).Msg("acp: failed to write response")
	}
}

func (c *Conn) respondError(id int64, rpcErr *RPCError) {
	if err := c.write(&rpcMessage{JSONRPC: "2.0", ID: &id, Error: rpcErr}); err != nil {
		log.Debug().Err(err).Int64("id", id).Msg("acp: failed to write error response")
	}
}

func (c *Conn) settleCall(msg *rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	c.mu.Unlock()

	if !ok {
		log.Debug().Int64("id", *msg.ID).Msg("acp: response for unknown call")
		return
	}
	ch <- msg
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[int64]chan *rpcMessage)
	c.mu.Unlock()

	close(c.done)
	_ = c.stream.Close()

	if c.onClose != nil {
		c.onClose(err)
	}
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		// All params types in this package marshal cleanly; a failure here
		// is a programming error.
		panic(fmt.Sprintf("acp: marshal params: %v", err))
	}
	return data
}
