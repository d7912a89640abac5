// Package emitter forwards published emotion results and error messages to
// an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/emotion-sensor/internal/config"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// ResultsMessage is the payload published on the results topic
type ResultsMessage struct {
	InstanceID string               `json:"instance_id" msgpack:"instance_id"`
	Seq        uint64               `json:"seq" msgpack:"seq"`
	TraceID    string               `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
	Faces      int                  `json:"faces" msgpack:"faces"`
	Results    []types.EmotionScore `json:"results" msgpack:"results"`
	Timestamp  time.Time            `json:"timestamp" msgpack:"timestamp"`
}

// ErrorMessage is the payload published on the errors topic
type ErrorMessage struct {
	InstanceID string    `json:"instance_id" msgpack:"instance_id"`
	Error      string    `json:"error" msgpack:"error"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
}

// MQTTEmitter publishes result snapshots and error messages to the broker.
// It implements publisher.Observer.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	// send publishes one payload (replaced in tests)
	send func(topic string, qos byte, payload []byte) error

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	e := &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
	e.send = e.publishMQTT
	return e
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// OnResults publishes a snapshot to the results topic
func (e *MQTTEmitter) OnResults(snap types.Snapshot) {
	msg := ResultsMessage{
		InstanceID: e.cfg.InstanceID,
		Seq:        snap.Seq,
		TraceID:    snap.TraceID,
		Faces:      snap.Faces,
		Results:    snap.Results,
		Timestamp:  snap.At,
	}
	if err := e.emit(e.cfg.MQTT.Topics.Results, e.qos("results"), msg); err != nil {
		slog.Debug("results not published", "seq", snap.Seq, "error", err)
	}
}

// OnError publishes an error message to the errors topic
func (e *MQTTEmitter) OnError(errMsg string) {
	msg := ErrorMessage{
		InstanceID: e.cfg.InstanceID,
		Error:      errMsg,
		Timestamp:  time.Now(),
	}
	if err := e.emit(e.cfg.MQTT.Topics.Errors, e.qos("errors"), msg); err != nil {
		slog.Debug("error message not published", "error", err)
	}
}

func (e *MQTTEmitter) emit(topic string, qos byte, v any) error {
	payload, err := Encode(e.cfg.MQTT.PayloadFormat, v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := e.send(topic, qos, payload); err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

func (e *MQTTEmitter) publishMQTT(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Encode serializes v as json or msgpack
func Encode(format string, v any) ([]byte, error) {
	switch format {
	case "", "json":
		return json.Marshal(v)
	case "msgpack":
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown payload format '%s'", format)
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) qos(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}
