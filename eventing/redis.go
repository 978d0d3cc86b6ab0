package eventing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coinmesh/marketbroker/logger"
)

// queueMaxLen bounds the request stream so a backlog with no live workers
// cannot grow without limit; pending entries past the bound are the same as
// timed-out requests from the client's point of view.
const queueMaxLen = 1000

// queueBlock is the XREADGROUP block interval. Short enough that a consumer
// notices context cancellation promptly.
const queueBlock = 5 * time.Second

type redisMsgPayload struct {
	InternalData    []byte  `msgpack:"data"`
	InternalHeaders Headers `msgpack:"headers"`
}

func (m *redisMsgPayload) Data() []byte {
	return m.InternalData
}

func (m *redisMsgPayload) Headers() Headers {
	return m.InternalHeaders
}

type redisSubscriber struct {
	pubsub *redis.PubSub
}

func (s *redisSubscriber) Close() error {
	return s.pubsub.Close()
}

type redisQueueSubscriber struct {
	streamKey string
	group     string
	consumer  string
	rdb       *redis.Client
	cancel    context.CancelFunc
}

func (s *redisQueueSubscriber) Close() error {
	s.cancel()
	return s.rdb.XGroupDelConsumer(context.Background(), s.streamKey, s.group, s.consumer).Err()
}

type redisEventingClient struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

var _ Client = (*redisEventingClient)(nil)

// NewRedisClient returns a Client carried over redis: pub/sub channels for
// fan-out subjects and streams with consumer groups for work queues. The
// caller owns the redis.Client lifecycle.
func NewRedisClient(ctx context.Context, log logger.Logger, rdb *redis.Client) (Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &redisEventingClient{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(map[string]interface{}{"component": "eventing"}),
	}, nil
}

func newPubRedisMessage(data []byte, opts ...PublishOption) redisMsgPayload {
	msg := redisMsgPayload{
		InternalData:    data,
		InternalHeaders: make(Headers),
	}
	options := &publishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	for _, header := range options.Headers {
		if len(header) == 2 {
			msg.InternalHeaders[header[0]] = header[1]
		}
	}
	return msg
}

func (c *redisEventingClient) marshal(ctx context.Context, msg *redisMsgPayload, span trace.Span) ([]byte, error) {
	propagator.Inject(ctx, msg.InternalHeaders)
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return payload, nil
}

func (c *redisEventingClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	msg := newPubRedisMessage(data, opts...)
	spanCtx, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload, err := c.marshal(spanCtx, &msg, span)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(spanCtx, subject, payload).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	span.SetStatus(codes.Ok, "message published")
	return nil
}

func (c *redisEventingClient) QueuePublish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	msg := newPubRedisMessage(data, opts...)
	spanCtx, span := tracer.Start(ctx, "QueuePublish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload, err := c.marshal(spanCtx, &msg, span)
	if err != nil {
		return err
	}
	err = c.rdb.XAdd(spanCtx, &redis.XAddArgs{
		Stream: subject,
		Approx: true,
		MaxLen: queueMaxLen,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}).Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to append to queue: %w", err)
	}
	span.SetStatus(codes.Ok, "message queued")
	return nil
}

func (c *redisEventingClient) internalCallback(ctx context.Context, payload []byte, cb MessageCallback) {
	var msg redisMsgPayload
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		c.logger.Error("failed to decode message: %s", err)
		return
	}
	spanCtx, span := tracer.Start(
		propagator.Extract(ctx, msg.InternalHeaders),
		"internalCallback",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	cb(spanCtx, &msg)
}

func (c *redisEventingClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	pubsub := c.rdb.Subscribe(ctx, subject)

	// Force the subscription onto the wire before returning so a publish
	// immediately after Subscribe cannot be lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case redisMsg, ok := <-ch:
				if !ok {
					return
				}
				c.internalCallback(ctx, []byte(redisMsg.Payload), cb)
			}
		}
	}()

	return &redisSubscriber{pubsub: pubsub}, nil
}

func (c *redisEventingClient) QueueSubscribe(ctx context.Context, subject, group string, cb MessageCallback) (Subscriber, error) {
	err := c.rdb.XGroupCreateMkStream(ctx, subject, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	consumer := fmt.Sprintf("%s-%s", group, uuid.New().String())
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisQueueSubscriber{
		streamKey: subject,
		group:     group,
		consumer:  consumer,
		rdb:       c.rdb,
		cancel:    cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-c.ctx.Done():
				return
			default:
			}
			streams, err := c.rdb.XReadGroup(subCtx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{subject, ">"},
				Count:    10,
				Block:    queueBlock,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if subCtx.Err() != nil || c.ctx.Err() != nil {
					return
				}
				c.logger.Error("queue read on %s failed: %s", subject, err)
				select {
				case <-subCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			for _, stream := range streams {
				for _, message := range stream.Messages {
					payload, ok := message.Values["payload"].(string)
					if !ok {
						c.logger.Warn("skipping queue entry %s with no payload", message.ID)
						c.rdb.XAck(subCtx, subject, group, message.ID)
						continue
					}
					c.internalCallback(subCtx, []byte(payload), cb)
					c.rdb.XAck(subCtx, subject, group, message.ID)
				}
			}
		}
	}()

	return sub, nil
}

func (c *redisEventingClient) Close() error {
	c.cancel()
	return nil
}
