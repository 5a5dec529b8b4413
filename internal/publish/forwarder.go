// Package publish forwards the outbound event stream to message brokers.
package publish

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"tottag/controller/internal/events"
)

// Publisher is the minimal broker interface a Forwarder needs.
//
// *MQTTPublisher and *NATSPublisher satisfy this.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// Forwarder drains one event subscription into a Publisher.
type Forwarder struct {
	log   zerolog.Logger
	pub   Publisher
	topic func(events.Kind) string
}

func NewForwarder(log zerolog.Logger, pub Publisher, topic func(events.Kind) string) *Forwarder {
	return &Forwarder{log: log, pub: pub, topic: topic}
}

// MQTTTopic joins prefix and kind with '/'.
func MQTTTopic(prefix string) func(events.Kind) string {
	prefix = strings.TrimRight(prefix, "/")
	return func(k events.Kind) string {
		if prefix == "" {
			return string(k)
		}
		return prefix + "/" + string(k)
	}
}

// NATSSubject joins prefix and kind with '.'.
func NATSSubject(prefix string) func(events.Kind) string {
	prefix = strings.TrimRight(prefix, ".")
	return func(k events.Kind) string {
		if prefix == "" {
			return string(k)
		}
		return prefix + "." + string(k)
	}
}

// Run forwards events until ctx ends or the subscription closes, then closes the publisher.
// Publish failures are logged and the event skipped.
func (f *Forwarder) Run(ctx context.Context, sub *events.Subscription) {
	defer f.pub.Close()
	defer sub.Close()

	log := f.log.With().Str("publisher", f.pub.Name()).Logger()
	log.Info().Msg("event forwarder started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event forwarder stopped")
			return
		case ev, ok := <-sub.C:
			if !ok {
				log.Info().Msg("event stream closed")
				return
			}
			f.forward(ctx, log, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, log zerolog.Logger, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("encode event")
		return
	}
	topic := f.topic(ev.Kind)
	if err := f.pub.Publish(ctx, topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", topic).Uint64("seq", ev.Seq).Msg("publish event failed")
		return
	}
	log.Debug().Str("topic", topic).Uint64("seq", ev.Seq).Msg("event published")
}
