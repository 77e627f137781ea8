// Package session 驱动单个网关连接的完整生命周期
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
)

var (
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrServerShutdown   = errors.New("server shutting down")
)

// Stream 一条已建立的双向消息流，每条消息恰好是一帧
// 对端正常关闭时 Receive 返回 io.EOF；Close 可以被并发、重复调用
type Stream interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateActive
	StateClosing
	StateTerminated
)

var stateNames = map[State]string{
	StateConnecting: "Connecting",
	StateRegistered: "Registered",
	StateActive:     "Active",
	StateClosing:    "Closing",
	StateTerminated: "Terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Options struct {
	HeartbeatInterval time.Duration
	// HeartbeatTimeout 为 0 时不检测心跳
	HeartbeatTimeout time.Duration
	// RequireIdentify 为 true 时未 Identify 的连接不能订阅和发消息
	RequireIdentify bool
	QueueCapacity   int
	OverflowPolicy  connection.OverflowPolicy
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 25 * time.Second,
		OverflowPolicy:    connection.OverflowBlock,
	}
}

func OptionsFromConfig(c config.Config) (Options, error) {
	policy, err := connection.ParseOverflowPolicy(c.Gateway.OverflowPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		HeartbeatInterval: c.HeartbeatInterval(),
		HeartbeatTimeout:  c.HeartbeatTimeout(),
		RequireIdentify:   c.Gateway.RequireIdentify,
		QueueCapacity:     c.Gateway.OutboundQueueCapacity,
		OverflowPolicy:    policy,
	}, nil
}

func (o Options) hello() protocol.Hello {
	return protocol.Hello{HeartbeatIntervalMS: uint64(o.HeartbeatInterval / time.Millisecond)}
}

type Publisher interface {
	Publish(ctx context.Context, event protocol.MessageCreateEvent) (int, error)
}

type Resolver interface {
	Resolve(ctx context.Context, token ids.Token) (ids.UserID, error)
}
