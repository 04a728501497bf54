// Package mqtt publishes subscription events to an MQTT broker, one message
// per change, under "<root topic>/<endpoint>/<tag path>".
//
// Publish-only: the write-back path (subscribing to a command topic and
// writing tags) belongs to the root client's write operation, not this
// fan-out sink.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"warlogix/subscribe"
)

// Config holds the broker connection settings for one Sink.
type Config struct {
	Broker    string
	Port      int
	ClientID  string
	Username  string
	Password  string
	TLS       *tls.Config
	RootTopic string
	QoS       byte
}

// Message is the JSON payload published for each subscription event.
type Message struct {
	Endpoint  string      `json:"endpoint"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value,omitempty"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink publishes subscribe.Event values to one MQTT broker.
type Sink struct {
	cfg    Config
	client pahomqtt.Client
}

// NewSink builds a Sink; call Connect before Publishing.
func NewSink(cfg Config) *Sink {
	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS != nil {
		scheme = "ssl"
		opts.SetTLSConfig(cfg.TLS)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	return &Sink{cfg: cfg, client: pahomqtt.NewClient(opts)}
}

// Connect dials the broker and blocks until the connection settles.
func (s *Sink) Connect() error {
	token := s.client.Connect()
	token.Wait()
	return token.Error()
}

// Disconnect closes the broker connection, waiting up to 250ms to flush.
func (s *Sink) Disconnect() {
	s.client.Disconnect(250)
}

// Publish implements subscribe.Sink.
func (s *Sink) Publish(ev subscribe.Event) error {
	payload, err := json.Marshal(messageFor(ev))
	if err != nil {
		return err
	}

	token := s.client.Publish(topicFor(s.cfg.RootTopic, ev), s.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
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

func topicFor(rootTopic string, ev subscribe.Event) string {
	return fmt.Sprintf("%s/%s/%s", rootTopic, ev.Endpoint, ev.Tag)
}
