package connection

import (
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

// Manager 进程级连接注册表 ConnectionID -> *Connection
type Manager struct {
	connections sync.Map
	size        atomic.Int64
}

func NewManager() *Manager {
	return &Manager{}
}

// Register 无条件插入；同一 ID 重复注册说明上层有 bug，只记录日志
func (cm *Manager) Register(id ids.ConnectionID, conn *Connection) {
	if _, loaded := cm.connections.Swap(id, conn); loaded {
		logger.ErrorF("[%s] Connection registered twice", id)
		return
	}
	cm.size.Add(1)
	logger.DebugF("[%s] Connection registered", id)
}

// Deregister 不存在时为空操作
func (cm *Manager) Deregister(id ids.ConnectionID) bool {
	if _, loaded := cm.connections.LoadAndDelete(id); !loaded {
		return false
	}
	cm.size.Add(-1)
	logger.DebugF("[%s] Connection deregistered", id)
	return true
}

func (cm *Manager) Lookup(id ids.ConnectionID) (*Connection, bool) {
	if value, ok := cm.connections.Load(id); ok {
		return value.(*Connection), true
	}
	return nil, false
}

func (cm *Manager) Len() int {
	return int(cm.size.Load())
}

func (cm *Manager) Range(fn func(conn *Connection) bool) {
	cm.connections.Range(func(_, value any) bool {
		return fn(value.(*Connection))
	})
}
