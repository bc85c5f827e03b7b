// Package ingest connects to the MQTT broker, subscribes to the sensor
// topic hierarchy, and hands decoded JSON payloads to the translator over a
// bounded channel, per spec.md §4.7. It follows the teacher's
// pkg/nodes/network/mqtt_in.go client-options idiom and the original's
// bacprop/stream.py (QoS 2, decode-or-drop, clean shutdown).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/config"
	"github.com/freshollie/bacprop/internal/logger"
)

// Topic is the fixed subscription filter named in spec.md §6.
const Topic = "sensor/#"

// QoS is the fixed quality-of-service level named in spec.md §4.7.
const QoS = 2

const (
	keepAlive           = 60 * time.Second
	connectTimeout      = 10 * time.Second
	maxReconnectBackoff = 30 * time.Second
	startupRetryBudget  = 5
)

// Record is one decoded MQTT payload, stamped with a correlation ID for log
// tracing across the ingest->translator boundary.
type Record struct {
	CorrelationID string
	Fields        map[string]interface{}
}

// Ingest owns the MQTT client connection and the bounded hand-off channel
// to the translator.
type Ingest struct {
	addr string
	port int

	client  mqtt.Client
	records chan Record
	log     *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// New builds an Ingest for the given broker, with a channel of capacity
// bufSize between MQTT delivery and the translator.
func New(cfg config.MQTTConfig, bufSize int) *Ingest {
	return &Ingest{
		addr:    cfg.Addr,
		port:    cfg.Port,
		records: make(chan Record, bufSize),
		log:     logger.Get(),
	}
}

// Records returns the channel the translator reads from.
func (i *Ingest) Records() <-chan Record {
	return i.records
}

// Connect dials the broker and subscribes to Topic at QoS 2. It retries
// with exponential backoff (capped at 30s per spec.md §7) up to a bounded
// startup budget; exhausting the budget or ctx cancellation is a fatal
// startup error per spec.md §7.
func (i *Ingest) Connect(ctx context.Context) error {
	broker := fmt.Sprintf("tcp://%s:%d", i.addr, i.port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("bacprop-%s", uuid.NewString()))
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectBackoff)
	opts.SetOnConnectHandler(i.onConnect)
	opts.SetConnectionLostHandler(i.onConnectionLost)

	i.client = mqtt.NewClient(opts)

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= startupRetryBudget; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token := i.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}
		lastErr = err
		i.log.Warn("mqtt connect attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
	return fmt.Errorf("ingest: could not connect to broker after %d attempts: %w", startupRetryBudget, lastErr)
}

func (i *Ingest) onConnect(c mqtt.Client) {
	i.mu.Lock()
	i.connected = true
	i.mu.Unlock()

	token := c.Subscribe(Topic, QoS, i.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		i.log.Error("mqtt subscribe failed", zap.String("topic", Topic), zap.Error(err))
		return
	}
	i.log.Info("subscribed to sensor stream", zap.String("topic", Topic))
}

func (i *Ingest) onConnectionLost(_ mqtt.Client, err error) {
	i.mu.Lock()
	i.connected = false
	i.mu.Unlock()
	i.log.Warn("mqtt connection lost, reconnecting", zap.Error(err))
}

// handleMessage is the paho delivery callback. It decodes the payload and
// blocks on the bounded records channel, which is the back-pressure
// mechanism spec.md §5 requires: a full channel stalls this callback,
// which stalls paho's delivery loop, which the broker observes as a slow
// QoS-2 subscriber.
func (i *Ingest) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var fields map[string]interface{}
	if err := json.Unmarshal(msg.Payload(), &fields); err != nil {
		i.log.Warn("dropping undecodable sensor payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	id := uuid.NewString()
	logger.WithIngest(id).Debug("decoded sensor payload", zap.String("topic", msg.Topic()))

	i.records <- Record{CorrelationID: id, Fields: fields}
}

// IsConnected reports the current broker connection state, for the
// "mqtt" health.ConnectionHealthCheck.
func (i *Ingest) IsConnected() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connected
}

// Stop unsubscribes, disconnects cleanly, and closes the records channel so
// the translator's Run loop terminates (spec.md §4.7/§4.10).
func (i *Ingest) Stop() {
	if i.client != nil && i.client.IsConnected() {
		token := i.client.Unsubscribe(Topic)
		token.Wait()
		i.client.Disconnect(250)
	}
	close(i.records)
}
