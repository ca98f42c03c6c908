// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package events carries job progress over an in-process pub/sub bus.
// The orchestrator publishes one event per processed item plus a terminal
// event per job; the WebSocket hub and any number of test subscribers
// consume them independently.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/models"
)

// TopicProgress is the bus topic for job progress events.
const TopicProgress = "sync.progress"

// Bus is an in-process progress event bus backed by a Go channel pub/sub.
// Slow subscribers buffer up to the configured depth and then block the
// publisher, which keeps event order intact per subscriber.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the progress bus. bufferSize bounds the per-subscriber
// queue; zero means unbuffered.
func NewBus(bufferSize int64) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: bufferSize},
			newLoggerAdapter(),
		),
	}
}

// PublishProgress emits one progress event. Events for a single job are
// published from one goroutine, so subscribers observe them in order.
func (b *Bus) PublishProgress(ev models.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("job_id", ev.JobID)
	if err := b.pubsub.Publish(TopicProgress, msg); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// SubscribeProgress returns a channel of decoded progress events. The
// channel closes when ctx is cancelled or the bus is closed. Events that
// fail to decode are acked and dropped with a warning.
func (b *Bus) SubscribeProgress(ctx context.Context) (<-chan models.ProgressEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicProgress)
	if err != nil {
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}

	out := make(chan models.ProgressEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev models.ProgressEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable progress event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// loggerAdapter bridges watermill's logging interface onto zerolog.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{}
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &loggerAdapter{fields: merged}
}

func (l *loggerAdapter) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
