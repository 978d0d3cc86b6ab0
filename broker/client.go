package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coinmesh/marketbroker/config"
	"github.com/coinmesh/marketbroker/eventing"
	"github.com/coinmesh/marketbroker/logger"
)

// ErrTimeout is returned when no matching response arrives before the
// deadline. Timed-out calls are safe to retry.
var ErrTimeout = errors.New("request timed out")

// ToolError is the caller-side view of a structured response error.
type ToolError struct {
	Kind    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client publishes tool requests on the request queue and correlates
// responses from the shared response channel. Any number of callers may use
// one Client concurrently; each pending call filters responses by its own
// request id.
type Client struct {
	events  eventing.Client
	log     logger.Logger
	cfg     config.BrokerConfig
	mu      sync.Mutex
	pending map[string]chan Response
	sub     eventing.Subscriber
	started bool
}

func NewClient(events eventing.Client, log logger.Logger, cfg config.BrokerConfig) *Client {
	return &Client{
		events:  events,
		log:     log.With(map[string]interface{}{"component": "broker.client"}),
		cfg:     cfg,
		pending: make(map[string]chan Response),
	}
}

// Start subscribes to the shared response channel. Must be called once
// before Call.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	sub, err := c.events.Subscribe(ctx, c.cfg.ResponseChannel, c.onResponse)
	if err != nil {
		return fmt.Errorf("failed to subscribe to responses: %w", err)
	}
	c.sub = sub
	c.started = true
	return nil
}

// Close drops the response subscription. Pending calls will time out.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		err := c.sub.Close()
		c.sub = nil
		c.started = false
		return err
	}
	return nil
}

// onResponse resolves the pending call matching the response's request id.
// Responses for unknown or already-resolved ids belong to callers that have
// timed out; they are dropped silently.
func (c *Client) onResponse(_ context.Context, msg eventing.Message) {
	var resp Response
	if err := json.Unmarshal(msg.Data(), &resp); err != nil {
		c.log.Warn("dropping undecodable response: %s", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Trace("dropping response for unknown request %s", resp.RequestID)
		return
	}
	ch <- resp
}

func (c *Client) register(id string) chan Response {
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call publishes a tool request and waits for its response using the
// configured default timeout.
func (c *Client) Call(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	return c.CallWithTimeout(ctx, tool, args, c.cfg.RequestTimeout)
}

// CallWithTimeout publishes a tool request and waits for the matching
// response. It fails with ErrTimeout if none arrives in time; a response
// surfacing after that is discarded. A structured error response is returned
// as a *ToolError.
func (c *Client) CallWithTimeout(ctx context.Context, tool string, args map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, errors.New("client not started")
	}

	req := newRequest(tool, args, uuid.NewString())
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Register before publishing so a fast response cannot slip past.
	ch := c.register(req.RequestID)

	if err := c.events.QueuePublish(ctx, c.cfg.RequestChannel, payload,
		eventing.WithHeader("request-id", req.RequestID)); err != nil {
		c.unregister(req.RequestID)
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}
	c.log.Debug("published request %s for tool %s", req.RequestID, tool)

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &ToolError{Kind: resp.Error.Kind, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.unregister(req.RequestID)
		return nil, ctx.Err()
	case <-time.After(timeout):
		c.unregister(req.RequestID)
		return nil, fmt.Errorf("%w: no response for %s after %s", ErrTimeout, req.RequestID, timeout)
	}
}
