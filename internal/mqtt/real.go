package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/rangefinder/internal/logic"
)

// bufferSize is how many messages are kept while the broker is unreachable.
// At the default poll rate this is a little over a minute of readings.
const bufferSize = 500

const publishTimeout = 5 * time.Second

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	clock  clock.Clock

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool // at least one successful connection
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is made in the background and retried until it succeeds, so a missing
// broker does not stop the daemon from starting.
func NewRealPublisher(broker string) *RealPublisher {
	p := newPublisher(nil, clock.New())

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("rangefinder").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.Printf("mqtt: connecting to %s", broker)
	return p
}

func newPublisher(client paho.Client, clk clock.Clock) *RealPublisher {
	return &RealPublisher{
		client: client,
		clock:  clk,
		buffer: newRingBuffer(bufferSize),
	}
}

// Publish sends a reading to the MQTT broker.
func (p *RealPublisher) Publish(r logic.Reading) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	if err := p.send(pendingMsg{topic: Topic, payload: payload}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once); shutdown events must get through
	msg := pendingMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}
	if err := p.send(msg); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if n := p.buffer.len(); n > 0 {
		log.Printf("mqtt: discarding %d buffered messages", n)
	}
	p.mu.Unlock()

	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(msg pendingMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout after %v", publishTimeout)
	}
	return token.Error()
}

// onConnect runs on paho's goroutine after every successful connection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending := p.buffer.drain()
	dropped := p.buffer.dropped
	p.mu.Unlock()

	if !reconnect {
		log.Printf("mqtt: connected")
	} else {
		log.Printf("mqtt: reconnected, replaying %d buffered messages (%d dropped so far)", len(pending), dropped)
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.clock.Now(), Event: EventReconnected})
		pending = append([]pendingMsg{{topic: TopicSystem, payload: payload, qos: 1}}, pending...)
	}

	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: replay to %s timed out", msg.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: replay to %s: %v", msg.topic, err)
		}
	}
}
