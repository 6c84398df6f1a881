// Package mqtt manages the capture service's single broker connection.
//
// This package manages:
//   - An ordered, de-duplicated list of candidate brokers
//   - Connection with a bounded per-candidate timeout
//   - Reconnection with capped exponential backoff and an attempt ceiling
//   - Re-subscription of the full topic set on every connect
//   - A bounded inbound message queue with backpressure
//   - Lifecycle events (connect, disconnect, reconnect, close, error)
//
// # State Machine
//
//	Idle -> Connecting(i) -> Connected -> Reconnecting(n) -> Connected
//	                      \-> Exhausted <-/
//
// Exhausted is terminal: only Reconnect re-arms the machine. Disconnect
// returns to Idle from any state.
//
// Paho's built-in auto-reconnect is disabled; the Client creates a fresh
// paho client per attempt so the attempt ceiling is exact.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(log)
//	if !client.Connect(ctx) {
//	    log.Warn("running without broker")
//	}
//	defer client.Close()
//
//	for msg := range client.Messages() {
//	    router.Route(msg.Topic, msg.Payload)
//	}
package mqtt
