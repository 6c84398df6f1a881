package mqtt

import (
	"fmt"
	"sort"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe adds a topic filter to the subscription set.
//
// The set is reissued on every connect, so subscribing while disconnected
// is allowed: the filter is recorded and takes effect on the next connect.
// When connected the subscription is issued immediately.
func (c *Client) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()

	conn := c.liveConnection()
	if conn == nil {
		return nil
	}
	return c.subscribe(conn, topic, qos)
}

// Subscriptions returns the tracked topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

func (c *Client) subscribe(conn connection, topic string, qos byte) error {
	token := conn.Subscribe(topic, qos, c.handleMessage)
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// restoreSubscriptions issues the full subscription set on a new connection.
// Failures are reported as events; the connection stays up.
func (c *Client) restoreSubscriptions(conn connection) {
	c.subMu.RLock()
	subs := make(map[string]byte, len(c.subscriptions))
	for topic, qos := range c.subscriptions {
		subs[topic] = qos
	}
	c.subMu.RUnlock()

	for topic, qos := range subs {
		if err := c.subscribe(conn, topic, qos); err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			c.getLogger().Warn("subscription failed", "topic", topic, "error", err)
		}
	}
}

// handleMessage copies a broker message onto the inbound queue.
// It blocks while the queue is full so the broker sees backpressure.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	m := Message{
		Topic:    msg.Topic(),
		Payload:  append([]byte(nil), msg.Payload()...),
		Retained: msg.Retained(),
		Received: time.Now(),
	}
	select {
	case c.messages <- m:
	case <-c.done:
	}
}
