package diagnostics

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// A ReadingSubmitted is the wire event carried on the ingestion bus: one
// measurement produced by a hardware bridge for one leaf entity. Events are
// gob-encoded on the bus.
type ReadingSubmitted struct {
	EntityID  EntityID
	Value     float64
	Timestamp time.Time
	Quality   float64
}

// An Ingestor feeds readings from an event bus into an Engine.
type Ingestor struct {
	Engine *Engine
}

// StreamReadings returns a component.Proc that subscribes to a pubsub
// subscription, decodes incoming ReadingSubmitted messages, and submits each
// as a reading to the Ingestor's Engine.
//
// An event naming an unregistered or composite entity is dropped with a log
// line rather than stopping the stream: a misconfigured bridge must not take
// down ingestion for every other feed.
func (i Ingestor) StreamReadings(sub *pubsub.Subscription) component.Proc {
	source := EventSource{
		subscription: sub,
		eventType:    reflect.TypeOf(ReadingSubmitted{}),
		decoder: func(p []byte, v reflect.Value) error {
			return gob.NewDecoder(bytes.NewReader(p)).DecodeValue(v)
		},
	}
	return source.Stream(func(ctx context.Context, msg any) error {
		submitted := msg.(ReadingSubmitted)
		err := i.Engine.SubmitReading(ctx, submitted.EntityID, Reading{
			Value:     submitted.Value,
			Timestamp: submitted.Timestamp,
			Quality:   submitted.Quality,
		})
		if errors.Is(err, ErrUnknownEntity) || errors.Is(err, ErrNotLeaf) {
			component.Logger(ctx).Warn("dropping reading for unroutable entity",
				"entity", submitted.EntityID, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	})
}

// EventSource wraps a pubsub subscription and decodes incoming messages into
// typed events.
type EventSource struct {
	subscription *pubsub.Subscription
	eventType    reflect.Type
	decoder      func(p []byte, v reflect.Value) error
}

// EventHandler is a function that processes a decoded event message.
type EventHandler func(ctx context.Context, msg any) error

// Stream returns a component.Proc that continuously receives messages from the
// subscription, decodes them using the configured decoder, and passes them to
// the provided EventHandler.
func (s EventSource) Stream(h EventHandler) component.Proc {
	return func(l *component.L) {
		for l.Continue() {
			msg, err := s.subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			v := reflect.New(s.eventType)
			if err := s.decoder(msg.Body, v); err != nil {
				l.Fatal(fmt.Errorf("decode: %w", err))
			}

			if err := h(l.Context(), v.Elem().Interface()); err != nil {
				l.Fatal(fmt.Errorf("process: %w", err))
			}
		}
	}
}
