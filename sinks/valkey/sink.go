// Package valkey stores subscription events as JSON values in a Valkey/Redis
// server, one key per (endpoint, tag).
//
// Publish-only like the mqtt sink: writing tags back from a command queue
// belongs to the root client's write path, not a fan-out sink.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"warlogix/subscribe"
)

// Config holds the server connection settings for one Sink.
type Config struct {
	Address  string
	Password string
	Database int
	UseTLS   bool

	// KeyPrefix is joined with the endpoint and tag to form the storage key,
	// e.g. KeyPrefix="warlogix" -> "warlogix:<endpoint>:<tag>".
	KeyPrefix string

	// TTL expires a tag's stored value if no further event arrives; zero
	// means the key never expires.
	TTL time.Duration
}

// Message is the JSON value stored for each subscription event.
type Message struct {
	Endpoint  string      `json:"endpoint"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value,omitempty"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink stores subscribe.Event values in one Valkey/Redis server.
type Sink struct {
	cfg    Config
	client *redis.Client
}

// NewSink builds a Sink and dials the server, pinging to surface a dead
// server at construction time rather than on the first Publish.
func NewSink(cfg Config) (*Sink, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Sink{cfg: cfg, client: client}, nil
}

// Close closes the underlying client.
func (s *Sink) Close() error { return s.client.Close() }

// Publish implements subscribe.Sink.
func (s *Sink) Publish(ev subscribe.Event) error {
	payload, err := json.Marshal(messageFor(ev))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Set(ctx, joinKey(s.cfg.KeyPrefix, ev.Endpoint, ev.Tag), payload, s.cfg.TTL).Err()
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

// joinKey joins key segments with colons, trimming empty segments so a blank
// KeyPrefix doesn't leave a stray leading colon.
func joinKey(segments ...string) string {
	var parts []string
	for _, seg := range segments {
		seg = strings.Trim(seg, ":")
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, ":")
}
