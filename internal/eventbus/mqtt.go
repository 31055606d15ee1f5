// Package eventbus implements the optional Event Bridge: a best-effort
// outbound mirror of a Session's progress stream onto an MQTT broker, for
// downstream systems that want to observe compliance activity without
// polling. A session never blocks on, or fails because of, a publish
// here.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/config"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Publisher mirrors a Session's ProgressEvent stream somewhere else.
// Publish must not block the caller for long and must never panic on a
// transport failure.
type Publisher interface {
	Publish(event types.ProgressEvent)
	Close()
}

// wireEvent is the JSON-safe projection of a types.ProgressEvent: Err is
// an error and Report can be large, so this is deliberately a separate
// shape rather than json.Marshal-ing the domain type directly.
type wireEvent struct {
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	WindowID  int64       `json:"window_id"`
	Exit      string      `json:"exit,omitempty"`
	Error     string      `json:"error,omitempty"`
	Compliant *bool       `json:"overall_compliant,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	At        time.Time   `json:"at"`
	Report    interface{} `json:"report,omitempty"`
}

// MQTTBridge publishes to a single topic with auto-reconnect, mirroring
// this codebase's MQTTEmitter connection-handling idiom.
type MQTTBridge struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	errors    uint64
}

// NewMQTTBridge connects to the configured broker and returns a ready
// Publisher. Connection failures are returned so the caller can decide
// whether a broken event bridge should prevent startup.
func NewMQTTBridge(cfg config.MQTTConfig, instanceID string) (*MQTTBridge, error) {
	b := &MQTTBridge{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(instanceID + "-eventbus")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		b.mu.Lock()
		b.connected = true
		b.mu.Unlock()
		slog.Info("event bridge connected", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		slog.Warn("event bridge connection lost, auto-reconnecting", "error", err, "broker", cfg.Broker)
	}

	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("event bridge connect timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("event bridge connect failed: %w", err)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return b, nil
}

// Publish marshals and publishes event, logging rather than propagating
// any failure. Mirroring progress is a convenience for operators, never
// a requirement of the pipeline itself.
func (b *MQTTBridge) Publish(event types.ProgressEvent) {
	if !b.isConnected() {
		b.mu.Lock()
		b.errors++
		b.mu.Unlock()
		return
	}

	we := wireEvent{
		SessionID: event.SessionID,
		Kind:      string(event.Kind),
		WindowID:  event.WindowID,
		Exit:      string(event.Exit),
		At:        event.At,
	}
	if event.Err != nil {
		we.Error = event.Err.Error()
	}
	if event.Report != nil {
		compliant := event.Report.OverallCompliant
		we.Compliant = &compliant
		we.Summary = event.Report.Summary
		we.Report = event.Report
	}

	payload, err := json.Marshal(we)
	if err != nil {
		slog.Warn("event bridge marshal failed", "session_id", event.SessionID, "error", err)
		return
	}

	topic := fmt.Sprintf("%s/%s", b.cfg.Topic, event.SessionID)
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("event bridge publish timeout", "topic", topic)
		b.mu.Lock()
		b.errors++
		b.mu.Unlock()
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("event bridge publish failed", "topic", topic, "error", err)
		b.mu.Lock()
		b.errors++
		b.mu.Unlock()
	}
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *MQTTBridge) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// NoopPublisher is the Publisher used when no MQTT config is present.
type NoopPublisher struct{}

func (NoopPublisher) Publish(types.ProgressEvent) {}
func (NoopPublisher) Close()                      {}
