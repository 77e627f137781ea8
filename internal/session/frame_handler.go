package session

import (
	"context"
	"errors"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
)

// handleFrame 所有错误都是软错误：记录日志后丢弃该帧，连接保持
func (s *session) handleFrame(ctx context.Context, payload protocol.Payload) {
	switch p := payload.(type) {
	case protocol.Identify:
		s.handleIdentify(ctx, p)
	case protocol.Subscribe:
		if s.allowed(p.Op()) {
			s.handleSubscribe(p)
		}
	case protocol.Unsubscribe:
		if s.allowed(p.Op()) {
			s.handleUnsubscribe(p)
		}
	case protocol.MessageCreate:
		if s.allowed(p.Op()) {
			s.handleMessageCreate(ctx, p)
		}
	case protocol.Heartbeat:
		s.reply(ctx, protocol.HeartbeatAck{Nonce: p.Nonce})
	default:
		logger.WarnF("[%s] %s frame is server-to-client only, dropped", s.id, payload.Op())
		s.metrics.FrameDenied(payload.Op().String())
	}
}

func (s *session) allowed(op protocol.Op) bool {
	if !s.options.RequireIdentify || s.State() == StateActive {
		return true
	}
	logger.WarnF("[%s] %s frame before Identify, dropped", s.id, op)
	s.metrics.FrameDenied(op.String())
	return false
}

func (s *session) handleIdentify(ctx context.Context, p protocol.Identify) {
	user := p.UserID
	if p.Token != "" {
		if s.resolver == nil {
			logger.WarnF("[%s] Identify with token %s but no token resolver configured, dropped", s.id, p.Token)
			s.metrics.FrameDenied(p.Op().String())
			return
		}
		resolved, err := s.resolver.Resolve(ctx, p.Token)
		if err != nil {
			logger.WarnF("[%s] Fail to resolve token %s, details: %v", s.id, p.Token, err)
			s.metrics.FrameDenied(p.Op().String())
			return
		}
		if user != "" && user != resolved {
			logger.WarnF("[%s] Asserted user %s differs from token owner %s, using token owner", s.id, user, resolved)
		}
		user = resolved
	}

	if previous, ok := s.conn.User(); ok && previous != user {
		logger.InfoF("[%s] Re-identify %s -> %s", s.id, previous, user)
	}
	s.conn.SetUser(user)
	s.setState(StateActive)
	logger.InfoF("[%s] Identified as %s", s.id, user)
}

func (s *session) handleSubscribe(p protocol.Subscribe) {
	s.conn.AddChannel(p.ChannelID)
	if s.index.Subscribe(p.ChannelID, s.id) {
		logger.DebugF("[%s] Subscribe %s", s.id, p.ChannelID)
	}
}

func (s *session) handleUnsubscribe(p protocol.Unsubscribe) {
	s.conn.RemoveChannel(p.ChannelID)
	if s.index.Unsubscribe(p.ChannelID, s.id) {
		logger.DebugF("[%s] Unsubscribe %s", s.id, p.ChannelID)
	}
}

// handleMessageCreate 发送者不需要订阅目标频道；若已订阅也会收到自己的消息
func (s *session) handleMessageCreate(ctx context.Context, p protocol.MessageCreate) {
	event := protocol.NewMessageCreateEvent(s.id, p.ChannelID, p.Content)
	delivered, err := s.dispatcher.Publish(ctx, event)
	if err != nil {
		if ctx.Err() == nil {
			logger.ErrorF("[%s] Fail to publish %s to %s, details: %v", s.id, event.ID, p.ChannelID, err)
		}
		return
	}
	logger.DebugF("[%s] Publish %s to %s, delivered %d", s.id, event.ID, p.ChannelID, delivered)
}

func (s *session) reply(ctx context.Context, payload protocol.Payload) {
	frame, err := protocol.Encode(payload)
	if err != nil {
		logger.ErrorF("[%s] Fail to encode %s frame, details: %v", s.id, payload.Op(), err)
		return
	}
	_, err = s.registry.SendMessage(ctx, s.id, frame)
	switch {
	case err == nil, errors.Is(err, connection.ErrQueueClosed):
	case errors.Is(err, connection.ErrQueueOverflow):
		logger.WarnF("[%s] Outbound queue overflow on %s, disconnecting", s.id, payload.Op())
		s.metrics.QueueOverflow(connection.OverflowDisconnect.String())
		s.cancel(dispatch.ErrSlowConsumer)
	default:
		logger.WarnF("[%s] Fail to enqueue %s frame, details: %v", s.id, payload.Op(), err)
	}
}
