package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/discovery"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
)

// eventBuffer bounds the fan-out channel.
const eventBuffer = 256

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the connection manager as seen by the service.
// *mqtt.Client satisfies it.
type Broker interface {
	Connect(ctx context.Context) bool
	Close() error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Messages() <-chan mqtt.Message
	Events() <-chan mqtt.Event
	State() mqtt.State
}

// Mirror receives numeric samples of captured messages.
// *influxdb.Client satisfies it.
type Mirror interface {
	WriteSample(s influxdb.Sample) bool
}

// Event is a connection event forwarded from the broker, or a message
// event emitted after the message has been routed. For message events
// Payload is the decoded payload and Sessions lists the sessions that
// captured it.
type Event struct {
	mqtt.Event
	Topic    string
	Payload  any
	Sessions []string
}

// Service wires the broker to the registry, router and store.
type Service struct {
	cfg        config.MQTTConfig
	topics     mqtt.Topics
	broker     Broker
	registry   *discovery.Registry
	controller *capture.Controller
	router     *capture.Router
	mirror     Mirror
	logger     Logger

	events  chan Event
	dropped atomic.Uint64

	mu       sync.Mutex
	running  bool
	shutdown bool
	cancel   context.CancelFunc
	done     chan struct{}

	closeBroker  sync.Once
	finaliseOnce sync.Once

	// registerMu lets the final EndAll wait for registrations in flight.
	registerMu sync.RWMutex
}

// New builds the service. Nothing is started until Run.
func New(cfg config.MQTTConfig, broker Broker, registry *discovery.Registry, controller *capture.Controller, store *capture.Store) *Service {
	return &Service{
		cfg:        cfg,
		topics:     mqtt.Topics{Base: cfg.BaseTopic},
		broker:     broker,
		registry:   registry,
		controller: controller,
		router:     capture.NewRouter(cfg.BaseTopic, controller, store),
		logger:     noopLogger{},
		events:     make(chan Event, eventBuffer),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetMirror sets the time-series mirror. nil disables mirroring.
func (s *Service) SetMirror(m Mirror) {
	s.mirror = m
}

// RegisterSession starts capturing for sessionID. See capture.Controller.Start.
// It returns false once Shutdown has been called.
func (s *Service) RegisterSession(ctx context.Context, sessionID, dataFile string, devices []capture.DeviceFilter) bool {
	s.registerMu.RLock()
	defer s.registerMu.RUnlock()

	s.mu.Lock()
	stopped := s.shutdown
	s.mu.Unlock()
	if stopped {
		s.logger.Warn("session not registered, service shutting down", "session_id", sessionID, "error", ErrShutdown)
		return false
	}
	return s.controller.Start(ctx, sessionID, dataFile, devices)
}

// EndSession finalises sessionID. See capture.Controller.End.
func (s *Service) EndSession(ctx context.Context, sessionID string) bool {
	return s.controller.End(ctx, sessionID)
}

// GetDevicesList returns the current device directory.
func (s *Service) GetDevicesList() []discovery.Device {
	return s.registry.Devices()
}

// GetTopics returns every topic seen, sorted.
func (s *Service) GetTopics() []string {
	return s.registry.Topics()
}

// GetMessageHistory returns the latest payloads on topic, oldest first.
func (s *Service) GetMessageHistory(topic string) []discovery.HistoryEntry {
	return s.registry.History(topic)
}

// Stats returns the controller's session statistics.
func (s *Service) Stats() capture.ControllerStats {
	return s.controller.Stats()
}

// BrokerState returns the connection state machine's current state.
func (s *Service) BrokerState() mqtt.State {
	return s.broker.State()
}

// PublishMessage publishes payload on topic with the configured QoS.
// Strings and byte slices are sent as-is; anything else is JSON encoded.
// It returns false without blocking when not connected.
func (s *Service) PublishMessage(topic string, payload any) bool {
	data, err := encodePayload(payload)
	if err != nil {
		s.logger.Warn("publish payload not encodable", "topic", topic, "error", err)
		return false
	}
	if err := s.broker.Publish(topic, data, byte(s.cfg.QoS), false); err != nil {
		s.logger.Debug("publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		return data, nil
	}
}

// Events returns the fan-out channel. It is closed after Shutdown.
func (s *Service) Events() <-chan Event {
	return s.events
}

// DroppedEvents returns how many events were discarded because the
// channel was full.
func (s *Service) DroppedEvents() uint64 {
	return s.dropped.Load()
}

// Run connects to the broker and processes messages until ctx is
// cancelled or Shutdown is called. A broker that cannot be reached is
// logged and Run keeps serving the rest of the API with no sensor data.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	if !s.broker.Connect(runCtx) {
		s.logger.Warn("no broker reachable, continuing without sensor data",
			"state", s.broker.State().String(),
		)
	}

	messages := s.broker.Messages()
	events := s.broker.Events()
	for {
		select {
		case <-runCtx.Done():
			s.drain(messages)
			return nil
		case msg := <-messages:
			s.handleMessage(runCtx, msg)
		case ev := <-events:
			s.forward(ev)
		}
	}
}

// drain processes messages already queued when Run stops.
func (s *Service) drain(messages <-chan mqtt.Message) {
	ctx := context.Background()
	for {
		select {
		case msg := <-messages:
			s.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

// handleMessage records bookkeeping for one message, routes it, mirrors
// captured samples and emits a message event.
func (s *Service) handleMessage(ctx context.Context, msg mqtt.Message) {
	at := msg.Received
	if at.IsZero() {
		at = time.Now()
	}

	s.registry.RecordTopic(ctx, msg.Topic)

	if s.topics.IsDeviceList(msg.Topic) {
		n, err := s.registry.UpdateDeviceList(ctx, msg.Payload)
		if err != nil {
			s.logger.Warn("device list ignored", "topic", msg.Topic, "error", err)
		} else {
			s.logger.Info("device list updated", "devices", n)
		}
	}

	payload := capture.DecodePayload(msg.Payload)
	s.registry.RecordMessage(msg.Topic, payload, at)

	deliveries := s.router.Route(msg.Topic, payload, at)
	captured := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		if d.Result == capture.Skipped {
			continue
		}
		captured = append(captured, d.SessionID)
		s.mirrorSample(d, msg.Topic, payload, at)
	}

	m := msg
	s.emit(Event{
		Event:    mqtt.Event{Kind: mqtt.EventMessage, Time: at, Message: &m},
		Topic:    msg.Topic,
		Payload:  payload,
		Sessions: captured,
	})
}

func (s *Service) mirrorSample(d capture.Delivery, topic string, payload any, at time.Time) {
	if s.mirror == nil {
		return
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return
	}
	s.mirror.WriteSample(influxdb.Sample{
		SessionID: d.SessionID,
		DeviceID:  d.DeviceID,
		Topic:     topic,
		Payload:   obj,
		Time:      at,
	})
}

func (s *Service) forward(ev mqtt.Event) {
	switch ev.Kind {
	case mqtt.EventConnect:
		s.logger.Info("broker connected", "url", ev.URL)
	case mqtt.EventDisconnect:
		s.logger.Warn("broker connection lost", "url", ev.URL, "error", ev.Err)
	case mqtt.EventReconnect:
		s.logger.Info("broker reconnect scheduled", "attempt", ev.Attempt, "delay", ev.Delay)
	case mqtt.EventClose:
		s.logger.Info("broker connection closed", "url", ev.URL, "error", ev.Err)
	case mqtt.EventError:
		s.logger.Warn("broker error", "url", ev.URL, "error", ev.Err)
	}
	s.emit(Event{Event: ev})
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Shutdown closes the broker connection, stops Run once it has drained
// queued messages and ends every active session. It is safe to call more
// than once; a call that times out waiting for Run can be retried.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	cancel := s.cancel
	done := s.done
	running := s.running
	s.mu.Unlock()

	s.closeBroker.Do(func() {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("closing broker failed", "error", err)
		}
	})

	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for ingest loop: %w", ctx.Err())
		}
	}

	s.finaliseOnce.Do(func() {
		s.registerMu.Lock()
		defer s.registerMu.Unlock()
		ended := s.controller.EndAll(ctx)
		s.logger.Info("ingest stopped", "sessions_finalised", ended)
		close(s.events)
	})
	return nil
}
