package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/perpindexer/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamReader is the part of Client the consumer needs.
type streamReader interface {
	XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error)
	XReadGroup(ctx context.Context, group, consumer, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
}

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name. Empty means a plain XREAD consumer.
	Group string

	// Consumer is the consumer name within the group. Required if Group is set.
	Consumer string

	// LastID is the starting position for plain consumers. Default: "0".
	LastID string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is how long to wait before retrying after a read error.
	// Doubles on each consecutive failure up to MaxRetryInterval. Default: 1 second.
	RetryInterval time.Duration

	// MaxRetryInterval defaults to 30 seconds.
	MaxRetryInterval time.Duration

	// AckRetry controls how often a failed XACK is retried. Default: 3 attempts from 100ms.
	AckRetry retry.Config

	Logger *zap.Logger
}

// MessageHandler processes a stream message. A nil return acknowledges the message in
// group mode; an error leaves it pending for inspection or redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is a single stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// StreamConsumer consumes messages from a Redis stream with retry on read errors.
type StreamConsumer struct {
	client streamReader
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client streamReader, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group != "" && config.Consumer == "" {
		return nil, errors.New("consumer name is required when using consumer groups")
	}

	if config.LastID == "" {
		config.LastID = "0"
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	if config.AckRetry.MaxRetries == 0 {
		config.AckRetry = retry.Config{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Run calls handler for each message until ctx is cancelled. In group mode the
// consumer's pending entries are replayed once before new entries are read.
//
// Delivery is at least once. A message whose handler failed, or whose acknowledgment
// failed after every retry, is handled again on the next start, so handlers must be
// idempotent for any message they cannot recognise as a repeat.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	lastID := sc.config.LastID
	if sc.config.Group != "" {
		if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
			return fmt.Errorf("create consumer group %s: %w", sc.config.Group, err)
		}
		sc.logger.Info("Consumer group ready",
			zap.String("stream", sc.config.Stream),
			zap.String("group", sc.config.Group),
			zap.String("consumer", sc.config.Consumer))
		lastID = "0"
	}

	retryInterval := sc.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("group", sc.config.Group))
			return ctx.Err()
		default:
		}

		messages, err := sc.readMessages(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		for _, msg := range messages {
			if err := sc.processMessage(ctx, handler, msg); err != nil {
				sc.logger.Error("Error processing message",
					zap.String("stream", sc.config.Stream),
					zap.String("id", msg.ID),
					zap.Error(err))
			}
		}

		switch {
		case sc.config.Group == "":
			if n := len(messages); n > 0 {
				lastID = messages[n-1].ID
			}
		case lastID != ">" && len(messages) < int(sc.config.Count):
			// Pending backlog drained.
			lastID = ">"
		case lastID != ">":
			lastID = messages[len(messages)-1].ID
		}
	}
}

func (sc *StreamConsumer) readMessages(ctx context.Context, lastID string) ([]Message, error) {
	var (
		streams []redis.XStream
		err     error
	)
	if sc.config.Group != "" {
		streams, err = sc.client.XReadGroup(ctx,
			sc.config.Group,
			sc.config.Consumer,
			sc.config.Stream,
			lastID,
			sc.config.Count,
			sc.config.Block,
		)
	} else {
		streams, err = sc.client.XRead(ctx,
			sc.config.Stream,
			lastID,
			sc.config.Count,
			sc.config.Block,
		)
	}
	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{
				ID:     xmsg.ID,
				Stream: stream.Stream,
				Values: xmsg.Values,
			})
		}
	}
	return messages, nil
}

func (sc *StreamConsumer) processMessage(ctx context.Context, handler MessageHandler, msg Message) error {
	if err := handler(ctx, msg); err != nil {
		return err
	}

	if sc.config.Group == "" {
		return nil
	}
	ackErr := retry.WithBackoff(ctx, sc.config.AckRetry, sc.logger, "xack "+msg.ID, func() error {
		_, err := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID)
		return err
	})
	if ackErr != nil {
		sc.logger.Warn("Failed to acknowledge message, it will be replayed on restart",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(ackErr))
	}
	return nil
}

// Field returns a field as a string. Missing fields return false.
func (m *Message) Field(field string) (string, bool) {
	switch v := m.Values[field].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Int64 parses a field as a base-10 integer.
func (m *Message) Int64(field string) (int64, error) {
	raw, ok := m.Field(field)
	if !ok {
		return 0, fmt.Errorf("message %s: missing field %q", m.ID, field)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message %s: field %q: %w", m.ID, field, err)
	}
	return n, nil
}

// Uint64 parses a field as a base-10 unsigned integer.
func (m *Message) Uint64(field string) (uint64, error) {
	raw, ok := m.Field(field)
	if !ok {
		return 0, fmt.Errorf("message %s: missing field %q", m.ID, field)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message %s: field %q: %w", m.ID, field, err)
	}
	return n, nil
}
