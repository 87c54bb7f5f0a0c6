package mqttingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nexusgrid/internal/ingestion"
	telemetry "nexusgrid/internal/telemetry/domain"
)

const defaultTopic = "meters/+/telemetry"

// Pipeline runs one payload through the ingestion coordinator.
type Pipeline interface {
	Ingest(ctx context.Context, payload telemetry.WirePayload) ingestion.Result
}

// Config holds broker connection settings.
type Config struct {
	Broker   string // host:port
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Source subscribes to a broker topic and feeds payloads into the pipeline.
// Meters publish to meters/<device_id>/telemetry; a payload without a
// device_id field inherits it from the topic.
type Source struct {
	client   mqtt.Client
	pipeline Pipeline
	topic    string
	qos      byte
	logger   *log.Logger
}

// NewSource connects to the broker and constructs a source. Subscribe must
// be called to start consuming.
func NewSource(cfg Config, pipeline Pipeline, logger *log.Logger) (*Source, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt ingest: empty broker address")
	}
	if pipeline == nil {
		return nil, errors.New("mqtt ingest: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "nexusgrid-ingest"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt ingest: connect: %w", token.Error())
	}

	return &Source{
		client:   client,
		pipeline: pipeline,
		topic:    topic,
		qos:      cfg.QoS,
		logger:   logger,
	}, nil
}

// Subscribe starts consuming telemetry from the broker. Message handling is
// serialized per connection by the client library; pipeline results are
// logged, never acked back to the broker.
func (s *Source) Subscribe(ctx context.Context) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var payload telemetry.WirePayload
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			s.logger.Printf("mqtt ingest: decode error: topic=%s: %v", msg.Topic(), err)
			return
		}
		if payload.DeviceID == "" {
			payload.DeviceID = deviceFromTopic(msg.Topic())
		}
		result := s.pipeline.Ingest(ctx, payload)
		if result.Err != nil {
			s.logger.Printf("mqtt ingest: %s: device=%s: %v", result.Status, result.DeviceID, result.Err)
		}
	}
	if token := s.client.Subscribe(s.topic, s.qos, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt ingest: subscribe: %w", token.Error())
	}
	s.logger.Printf("mqtt ingest: subscribed: topic=%s", s.topic)
	return nil
}

// Close disconnects from the broker.
func (s *Source) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// deviceFromTopic extracts the device segment of meters/<id>/telemetry.
func deviceFromTopic(topic string) string {
	var start, end int
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start == 0 || end <= start {
		return ""
	}
	return topic[start:end]
}
