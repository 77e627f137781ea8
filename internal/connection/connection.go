// Package connection 实现连接句柄、出站队列和进程级连接注册表
package connection

import (
	"context"
	"sort"
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

// Connection 单个连接的状态，归属于其会话驱动；注册表和订阅索引只通过 ID 引用
type Connection struct {
	id         ids.ConnectionID
	remoteAddr string
	queue      *Queue
	kick       context.CancelCauseFunc

	mu       sync.RWMutex
	user     ids.UserID
	channels map[ids.ChannelID]struct{}
}

// NewConnection kick 用于从外部强制结束会话，可以为 nil
func NewConnection(id ids.ConnectionID, remoteAddr string, queue *Queue, kick context.CancelCauseFunc) *Connection {
	return &Connection{
		id:         id,
		remoteAddr: remoteAddr,
		queue:      queue,
		kick:       kick,
		channels:   make(map[ids.ChannelID]struct{}),
	}
}

func (c *Connection) ID() ids.ConnectionID {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Connection) Queue() *Queue {
	return c.queue
}

func (c *Connection) Enqueue(ctx context.Context, frame []byte) error {
	return c.queue.Push(ctx, frame)
}

// Kick 以 cause 结束该连接的会话
func (c *Connection) Kick(cause error) {
	if c.kick != nil {
		c.kick(cause)
	}
}

func (c *Connection) SetUser(user ids.UserID) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

func (c *Connection) User() (ids.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user != ""
}

func (c *Connection) AddChannel(channel ids.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Connection) RemoveChannel(channel ids.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	return true
}

func (c *Connection) Channels() []ids.ChannelID {
	c.mu.RLock()
	result := make([]ids.ChannelID, 0, len(c.channels))
	for channel := range c.channels {
		result = append(result, channel)
	}
	c.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
