package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinmesh/marketbroker/config"
	"github.com/coinmesh/marketbroker/eventing"
	"github.com/coinmesh/marketbroker/logger"
)

// fakeEvents is an in-process transport: Publish fans out to every
// subscriber of a subject, QueuePublish delivers to exactly one group
// consumer. It keeps broker unit tests free of a real backend.
type fakeEvents struct {
	mu        sync.Mutex
	subs      map[string][]eventing.MessageCallback
	queueSubs map[string][]eventing.MessageCallback
	rr        map[string]int
}

type fakeMessage struct {
	data    []byte
	headers eventing.Headers
}

func (m *fakeMessage) Data() []byte              { return m.data }
func (m *fakeMessage) Headers() eventing.Headers { return m.headers }

type fakeSub struct{}

func (s *fakeSub) Close() error { return nil }

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		subs:      make(map[string][]eventing.MessageCallback),
		queueSubs: make(map[string][]eventing.MessageCallback),
		rr:        make(map[string]int),
	}
}

func (f *fakeEvents) Publish(ctx context.Context, subject string, data []byte, opts ...eventing.PublishOption) error {
	f.mu.Lock()
	cbs := append([]eventing.MessageCallback(nil), f.subs[subject]...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(ctx, &fakeMessage{data: data, headers: make(eventing.Headers)})
	}
	return nil
}

func (f *fakeEvents) QueuePublish(ctx context.Context, subject string, data []byte, opts ...eventing.PublishOption) error {
	f.mu.Lock()
	cbs := f.queueSubs[subject]
	if len(cbs) == 0 {
		f.mu.Unlock()
		return nil
	}
	cb := cbs[f.rr[subject]%len(cbs)]
	f.rr[subject]++
	f.mu.Unlock()
	cb(ctx, &fakeMessage{data: data, headers: make(eventing.Headers)})
	return nil
}

func (f *fakeEvents) Subscribe(ctx context.Context, subject string, cb eventing.MessageCallback) (eventing.Subscriber, error) {
	f.mu.Lock()
	f.subs[subject] = append(f.subs[subject], cb)
	f.mu.Unlock()
	return &fakeSub{}, nil
}

func (f *fakeEvents) QueueSubscribe(ctx context.Context, subject, group string, cb eventing.MessageCallback) (eventing.Subscriber, error) {
	f.mu.Lock()
	f.queueSubs[subject] = append(f.queueSubs[subject], cb)
	f.mu.Unlock()
	return &fakeSub{}, nil
}

func (f *fakeEvents) Close() error { return nil }

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		RequestChannel:  "md:requests",
		ResponseChannel: "md:responses",
		RequestTimeout:  2 * time.Second,
	}
}

func TestClientCallBeforeStart(t *testing.T) {
	c := NewClient(newFakeEvents(), logger.NewTestLogger(), testBrokerConfig())
	_, err := c.Call(context.Background(), "get_ticker", nil)
	assert.Error(t, err)
}

func TestClientTimeoutWhenNoWorker(t *testing.T) {
	c := NewClient(newFakeEvents(), logger.NewTestLogger(), testBrokerConfig())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	start := time.Now()
	_, err := c.CallWithTimeout(context.Background(), "get_ticker",
		map[string]interface{}{"symbol": "BTC/USDT"}, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// The pending slot is gone, so a late response for it is dropped.
	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestClientLateResponseDropped(t *testing.T) {
	log := logger.NewTestLogger()
	c := NewClient(newFakeEvents(), log, testBrokerConfig())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	resp, _ := json.Marshal(successResponse("no-such-id", json.RawMessage(`{"ok":true}`)))
	// Must not panic or resolve anything.
	c.onResponse(context.Background(), &fakeMessage{data: resp})
	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestClientUndecodableResponseDropped(t *testing.T) {
	log := logger.NewTestLogger()
	c := NewClient(newFakeEvents(), log, testBrokerConfig())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	c.onResponse(context.Background(), &fakeMessage{data: []byte("not json")})
	entries := log.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "WARN", entries[len(entries)-1].Severity)
}

func TestClientContextCancelled(t *testing.T) {
	c := NewClient(newFakeEvents(), logger.NewTestLogger(), testBrokerConfig())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.CallWithTimeout(ctx, "get_ticker",
			map[string]interface{}{"symbol": "BTC/USDT"}, time.Minute)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled call never returned")
	}
}

func TestClientStartIsIdempotent(t *testing.T) {
	c := NewClient(newFakeEvents(), logger.NewTestLogger(), testBrokerConfig())
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Close())
}

func TestRequestWireShape(t *testing.T) {
	req := newRequest("get_ticker", map[string]interface{}{"symbol": "BTC/USDT"}, "r-1")
	buf, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Equal(t, "r-1", decoded["request_id"])
	assert.Equal(t, "get_ticker", decoded["tool"])
	assert.NotNil(t, decoded["args"])
	assert.NotZero(t, decoded["issued_at"])
}

func TestResponseWireShapeExclusive(t *testing.T) {
	ok, err := json.Marshal(successResponse("r-1", json.RawMessage(`{"price":50000}`)))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(ok, &decoded))
	assert.Contains(t, decoded, "result")
	assert.NotContains(t, decoded, "error")

	bad, err := json.Marshal(errorResponse("r-2", ErrorKindUnknownTool, "unknown tool: x"))
	require.NoError(t, err)
	decoded = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(bad, &decoded))
	assert.Contains(t, decoded, "error")
	assert.NotContains(t, decoded, "result")
}
