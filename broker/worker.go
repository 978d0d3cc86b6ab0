package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/coinmesh/marketbroker/config"
	"github.com/coinmesh/marketbroker/eventing"
	"github.com/coinmesh/marketbroker/logger"
	"github.com/coinmesh/marketbroker/marketdata"
)

// Worker consumes requests from the request queue as part of a consumer
// group, dispatches them, and publishes responses on the shared response
// channel. Handler failures become structured error responses; nothing a
// handler does can stop the consume loop. In-flight handler invocations are
// capped by the configured concurrency ceiling; beyond it new requests wait.
type Worker struct {
	events     eventing.Client
	dispatcher *Dispatcher
	log        logger.Logger
	broker     config.BrokerConfig
	cfg        config.WorkerConfig
	sem        *semaphore.Weighted
}

func NewWorker(events eventing.Client, dispatcher *Dispatcher, log logger.Logger, broker config.BrokerConfig, cfg config.WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		events:     events,
		dispatcher: dispatcher,
		log:        log.With(map[string]interface{}{"component": "broker.worker"}),
		broker:     broker,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run joins the consumer group and processes requests until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.events.QueueSubscribe(ctx, w.broker.RequestChannel, w.cfg.Group, func(mctx context.Context, msg eventing.Message) {
		w.handle(mctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to join consumer group: %w", err)
	}
	defer sub.Close()

	w.log.Info("worker consuming %s in group %s (tools: %v, concurrency %d)",
		w.broker.RequestChannel, w.cfg.Group, w.dispatcher.Tools(), w.cfg.Concurrency)
	<-ctx.Done()
	return nil
}

// handle validates one queue message and runs its handler under the
// concurrency ceiling. Malformed messages are logged and skipped.
func (w *Worker) handle(ctx context.Context, msg eventing.Message) {
	var req Request
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		w.log.Warn("skipping malformed request: %s", err)
		return
	}
	if req.RequestID == "" {
		w.log.Warn("skipping request with no request id (tool %q)", req.Tool)
		return
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer w.sem.Release(1)
		w.publish(ctx, w.process(ctx, req))
	}()
}

// process runs the handler for req and converts the outcome into a
// response. A handler panic is contained and reported like any other
// failure.
func (w *Worker) process(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler for %s panicked: %v", req.Tool, r)
			resp = errorResponse(req.RequestID, ErrorKindHandlerException, fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	result, err := w.dispatcher.Dispatch(ctx, req.Tool, req.Args)
	if err != nil {
		w.log.Debug("request %s (%s) failed: %s", req.RequestID, req.Tool, err)
		return errorResponse(req.RequestID, errorKind(err), err.Error())
	}

	payload, err := json.Marshal(result)
	if err != nil {
		w.log.Error("result for %s is not serializable: %s", req.Tool, err)
		return errorResponse(req.RequestID, ErrorKindHandlerException, fmt.Sprintf("unserializable result: %s", err))
	}
	return successResponse(req.RequestID, payload)
}

func (w *Worker) publish(ctx context.Context, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		w.log.Error("failed to marshal response for %s: %s", resp.RequestID, err)
		return
	}
	if err := w.events.Publish(ctx, w.broker.ResponseChannel, payload,
		eventing.WithHeader("request-id", resp.RequestID)); err != nil {
		w.log.Error("failed to publish response for %s: %s", resp.RequestID, err)
	}
}

// errorKind maps a handler failure to its wire kind. Provider error kinds
// pass through so callers can distinguish a bad symbol from a dead exchange.
func errorKind(err error) string {
	if errors.Is(err, ErrUnknownTool) {
		return ErrorKindUnknownTool
	}
	if kind, ok := marketdata.ErrorKind(err); ok {
		return string(kind)
	}
	return ErrorKindHandlerException
}
