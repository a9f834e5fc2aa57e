package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 256

// ErrNotConnected is returned by Send while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Publications made while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *zap.SugaredLogger

	mu        sync.Mutex
	backlog   *backlog
	subs      map[string]func([]byte)
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// unreachable at startup is not an error: the client keeps retrying and
// publications are buffered until it connects.
func NewRealPublisher(opts Options, log *zap.SugaredLogger) (*RealPublisher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics:  opts.Topics,
		log:     log,
		backlog: newBacklog(opts.BufferSize),
		subs:    make(map[string]func([]byte)),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warnw("mqtt broker not reachable yet, buffering", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a phone report to the MQTT broker.
func (p *RealPublisher) Publish(report Report) error {
	payload, err := FormatPayload(report)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(p.topics.Events, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - lifecycle events should be delivered
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// Send publishes a raw payload at QoS 1. Unlike Publish it does not buffer:
// a call command that cannot be delivered now is stale by the time the
// broker returns.
func (p *RealPublisher) Send(topic string, payload []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("send %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. Subscriptions are renewed on every
// reconnect.
func (p *RealPublisher) Subscribe(topic string, handler func(payload []byte)) error {
	p.mu.Lock()
	p.subs[topic] = handler
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.subscribe(topic, handler)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of publications awaiting replay.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.IsConnected() {
		p.enqueue(outbound{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.enqueue(outbound{topic: topic, payload: payload, qos: qos, retained: retained})
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *RealPublisher) enqueue(msg outbound) {
	p.mu.Lock()
	dropped := p.backlog.add(msg)
	p.mu.Unlock()
	if dropped {
		p.log.Warnw("mqtt backlog full, dropping oldest", "limit", p.backlog.limit)
	}
}

func (p *RealPublisher) subscribe(topic string, handler func([]byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.backlog.flush()
	subs := make(map[string]func([]byte), len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()

	p.log.Infow("mqtt connected", "reconnect", reconnect, "replay", len(pending))

	for topic, h := range subs {
		if err := p.subscribe(topic, h); err != nil {
			p.log.Errorw("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
	for _, m := range pending {
		if err := p.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.log.Warnw("mqtt replay failed", "topic", m.topic, "error", err)
		}
	}
	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			p.log.Warnw("publish RECONNECTED failed", "error", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warnw("mqtt connection lost", "error", err)
}
