package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
)

// eventBuffer is the capacity of the lifecycle event channel.
const eventBuffer = 64

// connection is the subset of pahomqtt.Client the manager drives.
type connection interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// Client owns the single outbound broker connection.
//
// It walks the candidate list on Connect, reconnects with capped
// exponential backoff after a drop and gives up after MaxAttempts,
// remaining Exhausted until Reconnect is called. Broker errors never
// escape as panics or returned errors from Connect; they surface as Events.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are reissued on every successful connect.
type Client struct {
	cfg        config.MQTTConfig
	candidates []Candidate
	clientID   string

	newConn func(opts *pahomqtt.ClientOptions) connection
	after   func(d time.Duration) <-chan time.Time

	mu              sync.Mutex
	conn            connection
	state           State
	activeURL       string
	epoch           uint64
	reconnectCancel context.CancelFunc
	refreshTimer    *time.Timer

	// subscriptions tracks the topic set for re-subscription on connect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	messages chan Message
	events   chan Event

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedEvents atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// New creates an idle Client. No network activity happens until Connect.
func New(cfg config.MQTTConfig) *Client {
	buffer := cfg.MessageBuffer
	if buffer < 1 {
		buffer = 1
	}

	c := &Client{
		cfg:           cfg,
		candidates:    BuildCandidates(cfg.Brokers, cfg.URL),
		clientID:      fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]),
		after:         time.After,
		subscriptions: make(map[string]byte),
		messages:      make(chan Message, buffer),
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
		logger:        noopLogger{},
	}
	c.newConn = func(opts *pahomqtt.ClientOptions) connection {
		return pahomqtt.NewClient(opts)
	}
	for _, topic := range cfg.GetSubscriptions() {
		c.subscriptions[topic] = byte(cfg.QoS)
	}
	return c
}

// Connect walks the candidate list in order and stops at the first broker
// that accepts the connection. It returns true when connected. When every
// candidate fails the client enters StateExhausted and stays there until
// Reconnect; Connect from StateExhausted returns false without dialling.
func (c *Client) Connect(ctx context.Context) bool {
	if c.isClosed() {
		return false
	}

	c.mu.Lock()
	switch c.state.Kind {
	case StateConnected:
		c.mu.Unlock()
		return true
	case StateConnecting, StateReconnecting, StateExhausted:
		c.mu.Unlock()
		return false
	}
	c.state = State{Kind: StateConnecting}
	epoch := c.epoch
	c.mu.Unlock()

	if c.tryCandidates(ctx, epoch, false) {
		return true
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.state = State{Kind: StateExhausted}
	c.mu.Unlock()

	c.emit(Event{Kind: EventError, Err: ErrCandidatesExhausted})
	c.getLogger().Warn("no broker reachable, continuing without sensor data",
		"candidates", len(c.candidates),
	)
	return false
}

// Reconnect tears down any current connection or pending reconnect loop
// and runs a fresh candidate sweep. It is the only way out of StateExhausted.
func (c *Client) Reconnect(ctx context.Context) bool {
	c.Disconnect()
	return c.Connect(ctx)
}

// Disconnect closes the connection and cancels any reconnect loop.
// It is idempotent and always leaves the client in StateIdle.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.stopRefreshLocked()
	conn := c.conn
	url := c.activeURL
	c.conn = nil
	c.activeURL = ""
	c.state = State{Kind: StateIdle}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.publishStatus(conn, false)
	conn.Disconnect(defaultDisconnectQuiesce)
	c.emit(Event{Kind: EventClose, URL: url})
}

// Close disconnects and releases the client. Messages and Events are
// not closed; receivers should select on their own cancellation.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.Disconnect()
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// State returns a snapshot of the connection state machine.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveURL returns the broker currently connected to, or "".
func (c *Client) ActiveURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeURL
}

// Candidates returns the ordered broker candidate list.
func (c *Client) Candidates() []Candidate {
	out := make([]Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// ClientID returns the broker client identifier including its random suffix.
func (c *Client) ClientID() string {
	return c.clientID
}

// IsConnected reports whether a broker session is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Kind == StateConnected && c.conn != nil && c.conn.IsConnected()
}

// Messages returns the inbound message queue. Delivery blocks when the
// queue is full, which pushes back on the broker rather than dropping.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Events returns lifecycle events. Events are dropped when the channel is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// DroppedEvents returns how many events were discarded on a full channel.
func (c *Client) DroppedEvents() uint64 {
	return c.droppedEvents.Load()
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if c.isClosed() {
		return ErrClosed
	}
	if !c.IsConnected() {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.State())
	}
	return nil
}

// SetLogger sets a logger for connection lifecycle logging.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// tryCandidates attempts each candidate once, in order. It stops early if
// the epoch moves on (Disconnect/Reconnect) or ctx is cancelled.
func (c *Client) tryCandidates(ctx context.Context, epoch uint64, reconnecting bool) bool {
	for i, cand := range c.candidates {
		if ctx.Err() != nil || c.isClosed() || c.epochChanged(epoch) {
			return false
		}
		if !reconnecting {
			c.setState(epoch, State{Kind: StateConnecting, Candidate: i})
		}

		conn := c.newConn(c.buildClientOptions(cand.URL))
		if err := c.dial(conn); err != nil {
			c.emit(Event{Kind: EventError, URL: cand.URL, Err: err})
			c.getLogger().Warn("broker candidate failed",
				"url", cand.URL,
				"candidate", i,
				"error", err,
			)
			continue
		}

		if c.adopt(conn, cand.URL, epoch) {
			return true
		}
		conn.Disconnect(0)
		return false
	}
	return false
}

// dial performs a single bounded connect attempt.
func (c *Client) dial(conn connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during connect: %v", ErrConnectionFailed, r)
		}
	}()

	timeout := c.cfg.GetConnectTimeout()
	token := conn.Connect()
	if !token.WaitTimeout(timeout) {
		conn.Disconnect(0)
		return fmt.Errorf("%w: connect timeout after %v", ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// adopt installs conn as the live connection unless the epoch moved on.
func (c *Client) adopt(conn connection, url string, epoch uint64) bool {
	c.mu.Lock()
	if c.epoch != epoch || c.isClosed() {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.activeURL = url
	c.state = State{Kind: StateConnected}
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.mu.Unlock()

	c.getLogger().Info("connected to broker", "url", url, "client_id", c.clientID)
	c.emit(Event{Kind: EventConnect, URL: url})

	c.restoreSubscriptions(conn)
	c.publishStatus(conn, true)
	c.scheduleDeviceListRefresh(conn)
	return true
}

// handleConnectionLost starts the backoff loop for the live connection.
// Callbacks from superseded connections are ignored.
func (c *Client) handleConnectionLost(lost connection, err error) {
	c.mu.Lock()
	if c.conn == nil || c.conn != lost || c.isClosed() {
		c.mu.Unlock()
		return
	}
	url := c.activeURL
	c.conn = nil
	c.activeURL = ""
	c.stopRefreshLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.state = State{Kind: StateReconnecting}
	epoch := c.epoch
	c.wg.Add(1)
	c.mu.Unlock()

	c.getLogger().Warn("broker connection lost", "url", url, "error", err)
	c.emit(Event{Kind: EventDisconnect, URL: url, Err: err})

	go c.reconnectLoop(ctx, epoch)
}

func (c *Client) reconnectLoop(ctx context.Context, epoch uint64) {
	defer c.wg.Done()

	rc := c.cfg.Reconnect
	base := time.Duration(rc.InitialDelay) * time.Second
	ceiling := time.Duration(rc.MaxDelay) * time.Second

	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		delay := Backoff(attempt, base, rc.Multiplier, ceiling)
		if !c.setState(epoch, State{Kind: StateReconnecting, Attempt: attempt}) {
			return
		}
		c.emit(Event{Kind: EventReconnect, Attempt: attempt, Delay: delay})

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.after(delay):
		}

		if c.tryCandidates(ctx, epoch, true) {
			return
		}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state = State{Kind: StateExhausted}
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventClose, Err: ErrCandidatesExhausted})
	c.getLogger().Error("reconnect attempts exhausted, call Reconnect to resume",
		"attempts", rc.MaxAttempts,
	)
}

// scheduleDeviceListRefresh asks the bridge for its device list a short
// while after connecting, if the connection is still the live one.
func (c *Client) scheduleDeviceListRefresh(conn connection) {
	topic := c.cfg.GetDeviceListRequestTopic()
	if topic == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRefreshLocked()
	c.refreshTimer = time.AfterFunc(c.cfg.GetDeviceListDelay(), func() {
		c.mu.Lock()
		live := c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		if err := c.Publish(topic, []byte{}, byte(c.cfg.QoS), false); err != nil {
			c.getLogger().Warn("device list request failed", "topic", topic, "error", err)
		}
	})
}

func (c *Client) stopRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Client) publishStatus(conn connection, online bool) {
	if c.cfg.StatusTopic == "" {
		return
	}
	payload := buildOfflinePayload(c.clientID)
	if online {
		payload = buildOnlinePayload(c.clientID)
	}
	token := conn.Publish(c.cfg.StatusTopic, 1, true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.getLogger().Warn("status publish timed out", "topic", c.cfg.StatusTopic)
		return
	}
	if err := token.Error(); err != nil {
		c.getLogger().Warn("status publish failed", "topic", c.cfg.StatusTopic, "error", err)
	}
}

// setState updates the state unless the epoch moved on.
func (c *Client) setState(epoch uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.state = s
	return true
}

func (c *Client) epochChanged(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// emit sends an event without blocking.
func (c *Client) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case c.events <- ev:
	default:
		c.droppedEvents.Add(1)
	}
}
