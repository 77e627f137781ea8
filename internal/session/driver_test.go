package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/subscription"
)

type testEnv struct {
	registry *connection.Manager
	index    *subscription.Index
	issuer   *auth.Issuer
	driver   *Driver
}

func newTestEnv(options Options) *testEnv {
	registry := connection.NewManager()
	index := subscription.NewIndex(4)
	issuer := auth.NewIssuer(database.NewMemoryStore())
	return &testEnv{
		registry: registry,
		index:    index,
		issuer:   issuer,
		driver:   NewDriver(options, registry, index, dispatch.NewDispatcher(registry, index, nil), issuer, nil),
	}
}

type client struct {
	*pipeStream
	done chan error
}

func (e *testEnv) connect(ctx context.Context, t *testing.T) *client {
	t.Helper()
	c := &client{pipeStream: newPipe(), done: make(chan error, 1)}
	go func() {
		c.done <- e.driver.Serve(ctx, c.pipeStream)
	}()
	if _, ok := c.next(t).(protocol.Hello); !ok {
		t.Fatalf("Expected Hello as first frame")
	}
	return c
}

func (c *client) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Serve to return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) onlyConnection(t *testing.T) *connection.Connection {
	t.Helper()
	var found []*connection.Connection
	e.registry.Range(func(conn *connection.Connection) bool {
		found = append(found, conn)
		return true
	})
	if len(found) != 1 {
		t.Fatalf("registry holds %d connections, want 1", len(found))
	}
	return found[0]
}

func TestHelloFirstAndRegistryLifecycle(t *testing.T) {
	env := newTestEnv(DefaultOptions())
	c := &client{pipeStream: newPipe(), done: make(chan error, 1)}
	go func() { c.done <- env.driver.Serve(context.Background(), c.pipeStream) }()

	hello, ok := c.next(t).(protocol.Hello)
	if !ok {
		t.Fatalf("Expected Hello as first frame")
	}
	if hello.HeartbeatIntervalMS != 25000 {
		t.Errorf("heartbeat_interval_ms = %d, want 25000", hello.HeartbeatIntervalMS)
	}
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	c.closeClient()
	if err := c.wait(t); err != nil {
		t.Errorf("Serve returned %v on normal close, want nil", err)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d after close, want 0", env.registry.Len())
	}
	if !c.isClosed() {
		t.Errorf("stream not closed after Serve returned")
	}
}

func TestFanOutToSubscribers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())

	a := env.connect(ctx, t)
	b := env.connect(ctx, t)
	sender := env.connect(ctx, t)

	a.send(t, protocol.Subscribe{ChannelID: "general"})
	b.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)
	b.sync(t, 1)

	sender.send(t, protocol.MessageCreate{ChannelID: "general", Content: "hi"})

	ea := a.nextEvent(t)
	eb := b.nextEvent(t)
	for _, event := range []protocol.MessageCreateEvent{ea, eb} {
		if event.Content != "hi" || event.ChannelID != "general" {
			t.Errorf("unexpected event %+v", event)
		}
	}
	if ea.ID != eb.ID {
		t.Errorf("subscribers received different event ids %s and %s", ea.ID, eb.ID)
	}
	if ea.AuthorConnectionID == "" {
		t.Errorf("author connection id is empty")
	}

	// 发送者没有订阅，不应收到自己的消息
	sender.sync(t, 2)
	a.sync(t, 3)
	b.sync(t, 3)

	for _, c := range []*client{a, b, sender} {
		c.closeClient()
		if err := c.wait(t); err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.registry.Len())
	}
	if env.index.ChannelCount() != 0 {
		t.Errorf("index still holds %d channels", env.index.ChannelCount())
	}
}

func TestPublisherSubscribedWithPeer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)
	var authorID ids.ConnectionID
	env.registry.Range(func(conn *connection.Connection) bool {
		authorID = conn.ID()
		return false
	})

	b := env.connect(ctx, t)
	b.send(t, protocol.Subscribe{ChannelID: "general"})
	b.sync(t, 1)

	a.send(t, protocol.MessageCreate{ChannelID: "general", Content: "hi"})

	for name, c := range map[string]*client{"a": a, "b": b} {
		event := c.nextEvent(t)
		if event.Content != "hi" || event.ChannelID != "general" {
			t.Errorf("%s: unexpected event %+v", name, event)
		}
		if event.AuthorConnectionID != authorID {
			t.Errorf("%s: author = %s, want %s", name, event.AuthorConnectionID, authorID)
		}
		// 心跳应答紧随其后，说明只收到一条
		c.sync(t, 2)
	}
}

func TestHelloSurvivesQueueOverflow(t *testing.T) {
	options := DefaultOptions()
	options.QueueCapacity = 1
	options.OverflowPolicy = connection.OverflowDropOldest
	env := newTestEnv(options)

	c := &client{pipeStream: newPipe(), done: make(chan error, 1)}
	c.gate = make(chan struct{})
	go func() { c.done <- env.driver.Serve(context.Background(), c.pipeStream) }()

	c.send(t, protocol.Subscribe{ChannelID: "general"})
	for i := 0; i < 3; i++ {
		c.send(t, protocol.MessageCreate{ChannelID: "general", Content: "flood"})
	}
	c.send(t, protocol.Heartbeat{Nonce: 9})
	waitFor(t, "queue evictions", func() bool {
		var dropped uint64
		env.registry.Range(func(conn *connection.Connection) bool {
			dropped = conn.Queue().Dropped()
			return false
		})
		return dropped == 3
	})
	close(c.gate)

	if _, ok := c.next(t).(protocol.Hello); !ok {
		t.Fatalf("Expected Hello as first frame")
	}
	if ack, ok := c.next(t).(protocol.HeartbeatAck); !ok || ack.Nonce != 9 {
		t.Fatalf("Expected HeartbeatAck 9 to be the only queued frame left")
	}
	c.closeClient()
	if err := c.wait(t); err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)
	sender := env.connect(ctx, t)

	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)

	sender.send(t, protocol.MessageCreate{ChannelID: "general", Content: "once"})
	if event := a.nextEvent(t); event.Content != "once" {
		t.Errorf("content = %q, want once", event.Content)
	}
	a.sync(t, 2)

	if subs := env.index.SubscribersOf("general"); len(subs) != 1 {
		t.Errorf("subscribers = %v, want exactly one", subs)
	}
}

func TestSenderSubscribedReceivesOwnMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)

	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.send(t, protocol.MessageCreate{ChannelID: "general", Content: "echo"})
	if event := a.nextEvent(t); event.Content != "echo" {
		t.Errorf("content = %q, want echo", event.Content)
	}
}

func TestUnsubscribeStopsDeliveryForThatChannelOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)
	sender := env.connect(ctx, t)

	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.send(t, protocol.Subscribe{ChannelID: "random"})
	a.send(t, protocol.Unsubscribe{ChannelID: "general"})
	a.sync(t, 1)

	sender.send(t, protocol.MessageCreate{ChannelID: "general", Content: "dropped"})
	sender.send(t, protocol.MessageCreate{ChannelID: "random", Content: "kept"})

	if event := a.nextEvent(t); event.ChannelID != "random" || event.Content != "kept" {
		t.Errorf("unexpected event %+v", event)
	}
	var subscriber ids.ConnectionID
	env.registry.Range(func(conn *connection.Connection) bool {
		if len(conn.Channels()) > 0 {
			subscriber = conn.ID()
			return false
		}
		return true
	})
	if channels := env.index.ChannelsOf(subscriber); len(channels) != 1 || channels[0] != "random" {
		t.Errorf("channels = %v, want [random]", channels)
	}
}

func TestMalformedFrameIsSoftError(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)

	for _, raw := range []string{
		`not json`,
		`{"op":"Subscribe"}`,
		`{"op":"Bogus","d":{}}`,
		`{"op":"Subscribe","d":{"channel_id":""}}`,
		`{"op":"Hello","d":{"heartbeat_interval_ms":1}}`,
	} {
		a.sendRaw(t, []byte(raw))
	}
	a.sync(t, 7)
	if env.registry.Len() != 1 {
		t.Errorf("registry len = %d, want 1", env.registry.Len())
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	options := DefaultOptions()
	options.HeartbeatTimeout = 50 * time.Millisecond
	env := newTestEnv(options)
	a := env.connect(context.Background(), t)

	err := a.wait(t)
	if !errors.Is(err, ErrHeartbeatTimeout) {
		t.Fatalf("Serve returned %v, want ErrHeartbeatTimeout", err)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.registry.Len())
	}
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	options := DefaultOptions()
	options.HeartbeatTimeout = 150 * time.Millisecond
	env := newTestEnv(options)
	a := env.connect(context.Background(), t)

	for i := uint64(1); i <= 5; i++ {
		time.Sleep(50 * time.Millisecond)
		a.sync(t, i)
	}
	a.closeClient()
	if err := a.wait(t); err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}

func TestRequireIdentifyGate(t *testing.T) {
	options := DefaultOptions()
	options.RequireIdentify = true
	env := newTestEnv(options)
	a := env.connect(context.Background(), t)

	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)
	if subs := env.index.SubscribersOf("general"); len(subs) != 0 {
		t.Fatalf("Subscribe before Identify was accepted: %v", subs)
	}

	a.send(t, protocol.Identify{UserID: "alice"})
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 2)
	if subs := env.index.SubscribersOf("general"); len(subs) != 1 {
		t.Fatalf("Subscribe after Identify was dropped")
	}
	if user, _ := env.onlyConnection(t).User(); user != "alice" {
		t.Errorf("user = %q, want alice", user)
	}
}

func TestIdentifyWithToken(t *testing.T) {
	ctx := context.Background()
	options := DefaultOptions()
	options.RequireIdentify = true
	env := newTestEnv(options)
	a := env.connect(ctx, t)

	// 未知令牌：帧被丢弃，连接仍处于 Registered
	a.send(t, protocol.Identify{Token: "no-such-token"})
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)
	if _, ok := env.onlyConnection(t).User(); ok {
		t.Fatalf("connection identified with unknown token")
	}
	if subs := env.index.SubscribersOf("general"); len(subs) != 0 {
		t.Fatalf("Subscribe accepted after failed Identify")
	}

	token, user, err := env.issuer.Login(ctx)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	a.send(t, protocol.Identify{Token: token})
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 2)
	if got, _ := env.onlyConnection(t).User(); got != user {
		t.Errorf("user = %q, want %q", got, user)
	}
	if subs := env.index.SubscribersOf("general"); len(subs) != 1 {
		t.Errorf("Subscribe after token Identify was dropped")
	}
}

func TestTransportErrorIsReturned(t *testing.T) {
	env := newTestEnv(DefaultOptions())
	a := env.connect(context.Background(), t)
	a.send(t, protocol.Subscribe{ChannelID: "general"})
	a.sync(t, 1)

	transportErr := errors.New("connection reset by peer")
	a.fail <- transportErr

	if err := a.wait(t); err != transportErr {
		t.Fatalf("Serve returned %v, want the transport error unmodified", err)
	}
	if env.registry.Len() != 0 || env.index.ChannelCount() != 0 {
		t.Errorf("state left behind: registry=%d channels=%d", env.registry.Len(), env.index.ChannelCount())
	}
}

func TestServerShutdownCancelsSession(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	env := newTestEnv(DefaultOptions())
	a := env.connect(ctx, t)
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	cancel(ErrServerShutdown)
	if err := a.wait(t); !errors.Is(err, ErrServerShutdown) {
		t.Fatalf("Serve returned %v, want ErrServerShutdown", err)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.registry.Len())
	}
}

func TestKickEndsSession(t *testing.T) {
	env := newTestEnv(DefaultOptions())
	a := env.connect(context.Background(), t)
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	env.onlyConnection(t).Kick(dispatch.ErrSlowConsumer)
	if err := a.wait(t); !errors.Is(err, dispatch.ErrSlowConsumer) {
		t.Fatalf("Serve returned %v, want ErrSlowConsumer", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "Connecting"},
		{StateRegistered, "Registered"},
		{StateActive, "Active"},
		{StateClosing, "Closing"},
		{StateTerminated, "Terminated"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
