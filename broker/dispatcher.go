package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTool is returned when a request names a tool with no registered
// handler.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool invocation. A returned error becomes a
// structured response error; it never takes down the worker.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Dispatcher maps tool names to handlers. The mapping is closed at startup:
// register everything before handing the dispatcher to a worker.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to a tool name, replacing any previous binding.
func (d *Dispatcher) Register(tool string, h Handler) {
	d.handlers[tool] = h
}

// Tools returns the registered tool names, sorted.
func (d *Dispatcher) Tools() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the handler for tool. An unregistered name is a
// data-driven error, not a programming failure.
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, args map[string]interface{}) (interface{}, error) {
	h, ok := d.handlers[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return h(ctx, args)
}
