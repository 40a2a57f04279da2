package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

// StreamClient is the part of the Redis client a Subscriber uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

// Subscriber consumes one stream as a member of a consumer group. A message
// is acked only after its handler succeeds. Unacked messages stay in the
// group's pending list and are delivered again: the consumer's own backlog
// on start, and any entry idle longer than ClaimMinIdle through XAUTOCLAIM.
type Subscriber struct {
	client        StreamClient
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	claimInterval time.Duration
	claimMinIdle  time.Duration
	logger        *slog.Logger
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
	Logger        *slog.Logger
}

func NewSubscriber(client StreamClient, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.ClaimInterval == 0 {
		config.ClaimInterval = 30 * time.Second
	}
	if config.ClaimMinIdle == 0 {
		config.ClaimMinIdle = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		claimInterval: config.ClaimInterval,
		claimMinIdle:  config.ClaimMinIdle,
		logger:        config.Logger.With("stream", config.Stream, "group", config.Group),
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	// Create consumer group if it doesn't exist
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("subscriber started", "consumer", s.consumer)

	if err := s.drainPending(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("failed to drain pending messages", "error", err)
	}

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
		}

		if time.Since(lastClaim) >= s.claimInterval {
			lastClaim = time.Now()
			if err := s.reclaim(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to reclaim idle messages", "error", err)
			}
		}

		if err := s.readMessages(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("error reading messages", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// drainPending replays messages this consumer read but never acked, for
// example before a crash. Reading from an explicit ID returns the consumer's
// pending entries after it; the cursor moves past entries that fail again so
// they are left for reclaim instead of looping here.
func (s *Subscriber) drainPending(ctx context.Context) error {
	cursor := "0"
	for {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, cursor},
			Count:    s.batchSize,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pending messages: %w", err)
		}

		n := 0
		for _, stream := range streams {
			for _, message := range stream.Messages {
				n++
				cursor = message.ID
				s.deliver(ctx, message)
			}
		}
		if n == 0 {
			return nil
		}
	}
}

// reclaim takes over entries that have been pending longer than claimMinIdle,
// whichever consumer of the group read them, and handles them again.
func (s *Subscriber) reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimMinIdle,
			Start:    start,
			Count:    s.batchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to claim pending messages: %w", err)
		}
		for _, message := range messages {
			s.deliver(ctx, message)
		}
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
}

func (s *Subscriber) readMessages(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			s.deliver(ctx, message)
		}
	}

	return nil
}

// deliver handles one message and acks it on success. Undecodable messages
// are acked and dropped since no retry can fix them. Handler failures stay
// pending until reclaim hands them out again.
func (s *Subscriber) deliver(ctx context.Context, message redis.XMessage) {
	event, err := decodeMessage(message)
	if err != nil {
		s.logger.Error("dropping undecodable message", "id", message.ID, "error", err)
		s.ack(ctx, message.ID)
		return
	}
	if err := s.handler(ctx, event); err != nil {
		s.logger.Error("failed to process message", "id", message.ID, "type", event.Type, "error", err)
		return
	}
	s.ack(ctx, message.ID)
}

func (s *Subscriber) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		s.logger.Error("failed to ack message", "id", id, "error", err)
	}
}

func decodeMessage(message redis.XMessage) (Event, error) {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return Event{}, fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}
