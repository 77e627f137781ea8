package connection

import (
	"context"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

// MessageSender 按连接 ID 直接投递已编码的帧
type MessageSender interface {
	SendMessage(ctx context.Context, id ids.ConnectionID, frame []byte) (bool, error)
}

// SendMessage 连接不在注册表中时返回 (false, nil)，这是断开竞争下的正常情况
func (cm *Manager) SendMessage(ctx context.Context, id ids.ConnectionID, frame []byte) (bool, error) {
	conn, ok := cm.Lookup(id)
	if !ok {
		return false, nil
	}
	if err := conn.Enqueue(ctx, frame); err != nil {
		return false, err
	}
	return true, nil
}
