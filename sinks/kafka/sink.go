// Package kafka publishes subscription events to a Kafka topic, keyed by
// "<endpoint>/<tag path>" so a consumer group can partition by tag.
//
// One fixed topic per Sink: this sink serves one subscription fan-out, not a
// whole gateway's worth of PLCs across many topics.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"warlogix/subscribe"
)

// Config holds the topic and broker settings for one Sink.
type Config struct {
	Brokers []string
	Topic   string
}

// Message is the JSON payload produced for each subscription event.
type Message struct {
	Endpoint  string      `json:"endpoint"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value,omitempty"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink publishes subscribe.Event values to one Kafka topic.
type Sink struct {
	cfg    Config
	writer *kafkago.Writer
}

// NewSink builds a Sink backed by a single kafka.Writer for cfg.Topic.
func NewSink(cfg Config) *Sink {
	return &Sink{
		cfg: cfg,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
		},
	}
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error { return s.writer.Close() }

// Publish implements subscribe.Sink.
func (s *Sink) Publish(ev subscribe.Event) error {
	payload, err := json.Marshal(messageFor(ev))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(keyFor(ev)), Value: payload})
}

func messageFor(ev subscribe.Event) Message {
	msg := Message{Endpoint: ev.Endpoint, Tag: ev.Tag, Sequence: ev.Sequence, Timestamp: ev.Timestamp}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	} else if ev.New != nil {
		msg.Value = ev.New.Raw
	}
	return msg
}

func keyFor(ev subscribe.Event) string {
	return ev.Endpoint + "/" + ev.Tag
}
