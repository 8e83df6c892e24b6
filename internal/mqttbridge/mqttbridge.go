// Package mqttbridge optionally republishes received radio traffic, and a
// snapshot of the process's Prometheus metrics, to MQTT topics for
// external tooling.
package mqttbridge

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/BergLucas/microbit-go-simulator/internal/radio"
)

// Config configures a Bridge.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
}

// Bridge subscribes to a radio's received traffic and republishes each
// entry as a JSON MQTT message.
type Bridge struct {
	client mqtt.Client
	topic  string
}

// message is the JSON payload published for every received mailbox entry.
type message struct {
	Timestamp int64  `json:"timestamp_us"`
	RSSI      int    `json:"rssi"`
	Message   string `json:"message_base64"`
}

// New connects to broker and returns a ready-to-use Bridge.
func New(cfg Config) (*Bridge, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("mqttbridge: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqttbridge: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttbridge: connect: %w", token.Error())
	}

	return &Bridge{client: client, topic: cfg.Topic}, nil
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "microbit_" + hex.EncodeToString(b)
}

// PublishLoop polls r.ReceiveFull on an interval and publishes every entry
// it pops. It runs until stopCh is closed, the same daemonized-worker shape
// as the rest of the fabric's background loops.
func (b *Bridge) PublishLoop(r *radio.Radio, interval time.Duration, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}

		for {
			entry, ok := r.ReceiveFull()
			if !ok {
				break
			}
			b.publish(entry)
		}
	}
}

func (b *Bridge) publish(entry radio.Entry) {
	payload := message{
		Timestamp: entry.Timestamp,
		RSSI:      entry.RSSI,
		Message:   base64.StdEncoding.EncodeToString(entry.Message),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqttbridge: encode: %v", err)
		return
	}
	token := b.client.Publish(b.topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqttbridge: publish: %v", err)
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

// metricsSnapshot is the payload published on the metrics topic: a flat
// map of Prometheus metric name to its last observed numeric value.
type metricsSnapshot struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// PublishMetricsLoop gathers every metric from the process's default
// Prometheus registry on an interval and republishes a flat snapshot to
// metricsTopic.
func (b *Bridge) PublishMetricsLoop(metricsTopic string, interval time.Duration, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
		b.publishMetricsSnapshot(metricsTopic)
	}
}

func (b *Bridge) publishMetricsSnapshot(metricsTopic string) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("mqttbridge: gather metrics: %v", err)
		return
	}

	values := make(map[string]float64, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}
			values[family.GetName()] = value
		}
	}

	payload := metricsSnapshot{Timestamp: time.Now().Unix(), Metrics: values}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqttbridge: encode metrics snapshot: %v", err)
		return
	}

	token := b.client.Publish(metricsTopic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqttbridge: publish metrics snapshot: %v", err)
	}
}

// extractMetricValue extracts the numeric value from a Prometheus metric,
// falling through gauge, counter, histogram sum and summary sum.
func extractMetricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetHistogram() != nil:
		return m.GetHistogram().GetSampleSum(), true
	case m.GetSummary() != nil:
		return m.GetSummary().GetSampleSum(), true
	default:
		return 0, false
	}
}
