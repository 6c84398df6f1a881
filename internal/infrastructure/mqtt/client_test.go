package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeConn struct {
	url string

	mu          sync.Mutex
	reachable   bool
	connected   bool
	disconnects int
	subscribed  []string
	handlers    map[string]pahomqtt.MessageHandler
	published   []published
}

func (f *fakeConn) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return &fakeToken{err: fmt.Errorf("dial %s: connection refused", f.url)}
	}
	f.connected = true
	return &fakeToken{}
}

func (f *fakeConn) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, published{topic: topic, retained: retained, payload: b})
	return &fakeToken{}
}

func (f *fakeConn) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = cb
	return &fakeToken{}
}

func (f *fakeConn) deliver(topic string, payload []byte) {
	f.mu.Lock()
	var cb pahomqtt.MessageHandler
	for _, h := range f.handlers {
		cb = h
		break
	}
	f.mu.Unlock()
	cb(nil, fakeMessage{topic: topic, payload: payload})
}

func (f *fakeConn) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeConn) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.published))
	for _, p := range f.published {
		out = append(out, p.topic)
	}
	return out
}

// fakeBroker hands out fakeConns and tracks which URLs accept connections.
type fakeBroker struct {
	mu        sync.Mutex
	reachable map[string]bool
	conns     []*fakeConn
}

func newFakeBroker(reachable ...string) *fakeBroker {
	b := &fakeBroker{reachable: make(map[string]bool)}
	for _, u := range reachable {
		b.reachable[u] = true
	}
	return b
}

func (b *fakeBroker) setReachable(url string, ok bool) {
	b.mu.Lock()
	b.reachable[url] = ok
	b.mu.Unlock()
}

func (b *fakeBroker) factory(opts *pahomqtt.ClientOptions) connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := opts.Servers[0].String()
	fc := &fakeConn{url: u, reachable: b.reachable[u], handlers: make(map[string]pahomqtt.MessageHandler)}
	b.conns = append(b.conns, fc)
	return fc
}

func (b *fakeBroker) last() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) attempts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c.url)
	}
	return out
}

// recordingAfter fires immediately and records every requested delay.
type recordingAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingAfter) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingAfter) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// =============================================================================
// Helpers
// =============================================================================

func testConfig(urls ...string) config.MQTTConfig {
	brokers := make([]config.BrokerConfig, 0, len(urls))
	for i, u := range urls {
		brokers = append(brokers, config.BrokerConfig{URL: u, Priority: i})
	}
	return config.MQTTConfig{
		Brokers:                brokers,
		ClientID:               "capture-test",
		BaseTopic:              "zigbee2mqtt",
		ConnectTimeout:         1,
		DeviceListRequestTopic: "zigbee2mqtt/bridge/request/devices",
		DeviceListDelay:        10,
		MessageBuffer:          4,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 5,
			Multiplier:   1.5,
			MaxDelay:     60,
			MaxAttempts:  3,
		},
	}
}

func newTestClient(t *testing.T, cfg config.MQTTConfig, broker *fakeBroker) (*Client, *recordingAfter) {
	t.Helper()
	c := New(cfg)
	c.newConn = broker.factory
	rec := &recordingAfter{}
	c.after = rec.after
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func drainEvents(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// =============================================================================
// Candidates and Backoff
// =============================================================================

func TestBuildCandidates(t *testing.T) {
	brokers := []config.BrokerConfig{
		{URL: "tcp://c:1883", Priority: 2},
		{URL: "tcp://a:1883", Priority: 0},
		{URL: "tcp://b:1883", Priority: 1},
		{URL: "tcp://a2:1883", Priority: 0},
		{URL: "TCP://A:1883/", Priority: 3},
	}

	tests := []struct {
		name     string
		injected string
		want     []string
	}{
		{"priority order, stable ties", "", []string{"tcp://a:1883", "tcp://a2:1883", "tcp://b:1883", "tcp://c:1883"}},
		{"injected first", "tcp://env:1883", []string{"tcp://env:1883", "tcp://a:1883", "tcp://a2:1883", "tcp://b:1883", "tcp://c:1883"}},
		{"injected duplicate collapses", "tcp://b:1883", []string{"tcp://b:1883", "tcp://a:1883", "tcp://a2:1883", "tcp://c:1883"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCandidates(brokers, tt.injected)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].URL != tt.want[i] {
					t.Errorf("candidate[%d] = %q, want %q", i, got[i].URL, tt.want[i])
				}
			}
		})
	}
}

func TestBuildCandidates_Empty(t *testing.T) {
	if got := BuildCandidates(nil, ""); len(got) != 0 {
		t.Errorf("BuildCandidates(nil) = %v, want empty", got)
	}
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 7500 * time.Millisecond},
		{3, 11250 * time.Millisecond},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := Backoff(tt.attempt, base, 1.5, time.Minute); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{Kind: StateIdle}, "idle"},
		{State{Kind: StateConnecting, Candidate: 2}, "connecting(2)"},
		{State{Kind: StateConnected}, "connected"},
		{State{Kind: StateReconnecting, Attempt: 4}, "reconnecting(4)"},
		{State{Kind: StateExhausted}, "exhausted"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_FirstReachableCandidate(t *testing.T) {
	broker := newFakeBroker("tcp://b:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883", "tcp://b:1883", "tcp://c:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false, want true")
	}
	if got := c.State().Kind; got != StateConnected {
		t.Errorf("State = %v, want connected", got)
	}
	if got := c.ActiveURL(); got != "tcp://b:1883" {
		t.Errorf("ActiveURL = %q, want tcp://b:1883", got)
	}
	if got := broker.attempts(); len(got) != 2 {
		t.Errorf("attempts = %v, want a then b", got)
	}

	live := broker.last()
	live.mu.Lock()
	subscribed := append([]string(nil), live.subscribed...)
	live.mu.Unlock()
	if len(subscribed) != 1 || subscribed[0] != "zigbee2mqtt/#" {
		t.Errorf("subscribed = %v, want [zigbee2mqtt/#]", subscribed)
	}

	events := drainEvents(c)
	if !hasEvent(events, EventError) || !hasEvent(events, EventConnect) {
		t.Errorf("events = %v, want error for a and connect for b", events)
	}
}

func TestConnect_AllUnreachableExhausted(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newTestClient(t, testConfig("tcp://a:1883", "tcp://b:1883", "tcp://c:1883"), broker)

	if c.Connect(context.Background()) {
		t.Fatal("Connect() = true, want false")
	}
	if got := c.State().Kind; got != StateExhausted {
		t.Errorf("State = %v, want exhausted", got)
	}
	if got := len(broker.attempts()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	start := time.Now()
	err := c.Publish("zigbee2mqtt/door1/set", []byte(`{}`), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish() took %v while exhausted", elapsed)
	}
}

func TestConnect_ExhaustedNeedsReconnect(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if c.Connect(context.Background()) {
		t.Fatal("Connect() = true, want false")
	}
	broker.setReachable("tcp://a:1883", true)

	if c.Connect(context.Background()) {
		t.Error("Connect() from exhausted = true, want false")
	}
	if got := len(broker.attempts()); got != 1 {
		t.Errorf("attempts = %d, want 1 (no sweep from exhausted)", got)
	}
	if got := c.State().Kind; got != StateExhausted {
		t.Errorf("State = %v, want exhausted", got)
	}

	if !c.Reconnect(context.Background()) {
		t.Fatal("Reconnect() = false, want true")
	}
	if got := c.State().Kind; got != StateConnected {
		t.Errorf("State after Reconnect = %v, want connected", got)
	}
}

func TestConnect_RealClientClosedPorts(t *testing.T) {
	var urls []string
	for i := 0; i < 3; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Skipf("cannot allocate port: %v", err)
		}
		urls = append(urls, "tcp://"+l.Addr().String())
		l.Close()
	}

	c := New(testConfig(urls...))
	defer c.Close()

	if c.Connect(context.Background()) {
		t.Fatal("Connect() = true against closed ports")
	}
	if got := c.State().Kind; got != StateExhausted {
		t.Errorf("State = %v, want exhausted", got)
	}
	if err := c.Publish("x", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestConnect_NoCandidates(t *testing.T) {
	c, _ := newTestClient(t, testConfig(), newFakeBroker())
	if c.Connect(context.Background()) {
		t.Fatal("Connect() = true with no candidates")
	}
	if got := c.State().Kind; got != StateExhausted {
		t.Errorf("State = %v, want exhausted", got)
	}
}

func TestConnect_InjectedURLTriedFirst(t *testing.T) {
	cfg := testConfig("tcp://a:1883")
	cfg.URL = "tcp://env:1883"
	broker := newFakeBroker("tcp://env:1883", "tcp://a:1883")
	c, _ := newTestClient(t, cfg, broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	if got := c.ActiveURL(); got != "tcp://env:1883" {
		t.Errorf("ActiveURL = %q, want injected URL", got)
	}
}

func TestConnectionLost_ReconnectsWithBackoff(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, rec := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	first := broker.last()
	drainEvents(c)

	c.handleConnectionLost(first, errors.New("EOF"))

	waitFor(t, "reconnect", func() bool {
		return c.IsConnected() && broker.last() != first && broker.last().subscriptionCount() == 1
	})

	if got := rec.recorded(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("delays = %v, want [5s]", got)
	}
}

func TestConnectionLost_CeilingReachedThenManualReconnect(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, rec := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	first := broker.last()
	broker.setReachable("tcp://a:1883", false)

	c.handleConnectionLost(first, errors.New("EOF"))
	waitFor(t, "exhausted", func() bool { return c.State().Kind == StateExhausted })

	want := []time.Duration{5 * time.Second, 7500 * time.Millisecond, 11250 * time.Millisecond}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if !hasEvent(drainEvents(c), EventClose) {
		t.Error("no close event after ceiling")
	}

	broker.setReachable("tcp://a:1883", true)
	if !c.Reconnect(context.Background()) {
		t.Fatal("Reconnect() = false, want true")
	}
	if got := c.State().Kind; got != StateConnected {
		t.Errorf("State after Reconnect = %v, want connected", got)
	}
}

func TestConnectionLost_StaleCallbackIgnored(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, rec := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	stale := &fakeConn{url: "tcp://a:1883"}
	c.handleConnectionLost(stale, errors.New("old"))

	if got := c.State().Kind; got != StateConnected {
		t.Errorf("State = %v, want connected", got)
	}
	if got := rec.recorded(); len(got) != 0 {
		t.Errorf("backoff scheduled for stale callback: %v", got)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	c.Disconnect()
	if got := c.State().Kind; got != StateIdle {
		t.Errorf("State = %v, want idle", got)
	}

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	live := broker.last()

	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if got := c.State().Kind; got != StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	live.mu.Lock()
	disconnects := live.disconnects
	live.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("underlying disconnects = %d, want 1", disconnects)
	}
	if c.ActiveURL() != "" {
		t.Error("ActiveURL not cleared")
	}
}

func TestClose_StopsFurtherConnects(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Connect(context.Background()) {
		t.Error("Connect() after Close = true")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() = %v, want ErrClosed", err)
	}
}

// =============================================================================
// Messages, Publish, Subscribe
// =============================================================================

func TestMessagesDelivered(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	broker.last().deliver("zigbee2mqtt/door1", []byte(`{"contact":true}`))

	select {
	case msg := <-c.Messages():
		if msg.Topic != "zigbee2mqtt/door1" {
			t.Errorf("Topic = %q", msg.Topic)
		}
		if string(msg.Payload) != `{"contact":true}` {
			t.Errorf("Payload = %s", msg.Payload)
		}
		if msg.Received.IsZero() {
			t.Error("Received not set")
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMessagesBackpressure(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	cfg := testConfig("tcp://a:1883")
	cfg.MessageBuffer = 1
	c, _ := newTestClient(t, cfg, broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	live := broker.last()
	live.deliver("zigbee2mqtt/a", []byte("1"))

	blocked := make(chan struct{})
	go func() {
		live.deliver("zigbee2mqtt/b", []byte("2"))
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("delivery did not block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	<-c.Messages()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("delivery did not resume after the queue drained")
	}
}

func TestPublish_Validation(t *testing.T) {
	c, _ := newTestClient(t, testConfig(), newFakeBroker())

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 0, nil, ErrInvalidTopic},
		{"bad qos", "t", 3, nil, ErrInvalidQoS},
		{"too large", "t", 0, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "t", 0, []byte("x"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublish_Connected(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)
	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}

	if err := c.PublishString("zigbee2mqtt/door1/set", `{"state":"ON"}`, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	found := false
	for _, topic := range broker.last().publishedTopics() {
		if topic == "zigbee2mqtt/door1/set" {
			found = true
		}
	}
	if !found {
		t.Error("publish not forwarded to connection")
	}
}

func TestSubscribe_RecordedWhileDisconnected(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if err := c.Subscribe("other/#", 0); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("other/#") {
		t.Fatal("subscription not tracked")
	}
	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	if got := broker.last().subscriptionCount(); got != 2 {
		t.Errorf("subscribed on connect = %d, want 2", got)
	}
	if err := c.Subscribe("", 0); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") = %v, want ErrInvalidTopic", err)
	}
}

func TestDeviceListRefreshRequested(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	live := broker.last()
	waitFor(t, "device list request", func() bool {
		for _, topic := range live.publishedTopics() {
			if topic == "zigbee2mqtt/bridge/request/devices" {
				return true
			}
		}
		return false
	})
}

func TestStatusTopicPublishedOnConnect(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	cfg := testConfig("tcp://a:1883")
	cfg.StatusTopic = "capture/status"
	c, _ := newTestClient(t, cfg, broker)

	if !c.Connect(context.Background()) {
		t.Fatal("Connect() = false")
	}
	live := broker.last()
	c.Disconnect()

	var statuses int
	for _, topic := range live.publishedTopics() {
		if topic == "capture/status" {
			statuses++
		}
	}
	if statuses != 2 {
		t.Errorf("status publishes = %d, want online and offline", statuses)
	}
}

func TestHealthCheck(t *testing.T) {
	broker := newFakeBroker("tcp://a:1883")
	c, _ := newTestClient(t, testConfig("tcp://a:1883"), broker)

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() idle = %v, want ErrNotConnected", err)
	}
	c.Connect(context.Background())
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() connected = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled = %v", err)
	}
}

func TestEventsDropWhenFull(t *testing.T) {
	c, _ := newTestClient(t, testConfig(), newFakeBroker())
	for i := 0; i < eventBuffer+5; i++ {
		c.emit(Event{Kind: EventError})
	}
	if got := c.DroppedEvents(); got != 5 {
		t.Errorf("DroppedEvents = %d, want 5", got)
	}
}
