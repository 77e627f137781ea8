package session

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/subscription"
)

// Driver 持有所有会话共享的依赖；resolver 为 nil 时 Identify 中的令牌无法解析
type Driver struct {
	options    Options
	registry   *connection.Manager
	index      *subscription.Index
	dispatcher Publisher
	resolver   Resolver
	metrics    *metrics.Metrics
}

func NewDriver(
	options Options,
	registry *connection.Manager,
	index *subscription.Index,
	dispatcher Publisher,
	resolver Resolver,
	m *metrics.Metrics,
) *Driver {
	return &Driver{
		options:    options,
		registry:   registry,
		index:      index,
		dispatcher: dispatcher,
		resolver:   resolver,
		metrics:    m,
	}
}

type session struct {
	*Driver
	id     ids.ConnectionID
	conn   *connection.Connection
	stream Stream
	state  atomic.Int32
	cancel context.CancelCauseFunc
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old != state {
		logger.DebugF("[%s] State %s -> %s", s.id, old, state)
	}
}

// Serve 运行一个连接直到其结束，返回时 stream 已关闭
// 对端正常关闭时返回 nil；传输错误原样返回；被踢出、心跳超时或服务关闭时返回对应原因
func (d *Driver) Serve(ctx context.Context, stream Stream) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})

	id := ids.NewConnectionID()
	remoteAddr := "unknown"
	if addr, ok := stream.(interface{ RemoteAddr() string }); ok {
		remoteAddr = addr.RemoteAddr()
	}
	queue := connection.NewQueue(d.options.QueueCapacity, d.options.OverflowPolicy)
	s := &session{
		Driver: d,
		id:     id,
		conn:   connection.NewConnection(id, remoteAddr, queue, cancel),
		stream: stream,
		cancel: cancel,
	}
	s.setState(StateConnecting)
	logger.InfoF("[%s] Connection accepted from %s", id, remoteAddr)

	// Hello 由写协程在取队列之前直接写出，不占队列容量，也不受溢出策略影响
	writerDone := make(chan struct{})
	go s.writeLoop(ctx, protocol.MustEncode(d.options.hello()), writerDone)

	d.registry.Register(id, s.conn)
	d.metrics.ConnectionOpened()
	s.setState(StateRegistered)

	readErr := s.readLoop(ctx)
	cause := context.Cause(ctx)

	s.setState(StateClosing)
	channels := d.index.UnsubscribeAll(id)
	d.registry.Deregister(id)
	queue.Close()
	<-writerDone
	cancel(nil)
	_ = stream.Close()
	s.setState(StateTerminated)

	err := terminalError(readErr, cause)
	d.metrics.ConnectionClosed(closeReason(err))
	if err != nil {
		logger.InfoF("[%s] Connection closed (left %d channels), reason: %v", id, len(channels), err)
	} else {
		logger.InfoF("[%s] Connection closed (left %d channels)", id, len(channels))
	}
	return err
}

// writeError 标记由写协程触发的取消
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func terminalError(readErr, cause error) error {
	var we *writeError
	if errors.As(cause, &we) {
		// 对端已正常关闭时，随后的写失败不算错误
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		return we.err
	}
	if cause != nil {
		return cause
	}
	if readErr == nil || errors.Is(readErr, io.EOF) {
		return nil
	}
	return readErr
}

func closeReason(err error) string {
	switch {
	case err == nil:
		return "normal"
	case errors.Is(err, ErrHeartbeatTimeout):
		return "heartbeat_timeout"
	case errors.Is(err, ErrServerShutdown):
		return "shutdown"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, dispatch.ErrSlowConsumer):
		return "slow_consumer"
	default:
		return "transport_error"
	}
}

// readLoop 顺序处理入站帧，只在读取失败时返回
func (s *session) readLoop(ctx context.Context) error {
	var timer *time.Timer
	if timeout := s.options.HeartbeatTimeout; timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			logger.WarnF("[%s] No frame within %v, closing", s.id, timeout)
			s.cancel(ErrHeartbeatTimeout)
		})
		defer timer.Stop()
	}

	for {
		data, err := s.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				handleReadError(s.id, err)
			}
			return err
		}
		if timer != nil {
			timer.Reset(s.options.HeartbeatTimeout)
		}

		payload, err := protocol.Decode(data)
		if err != nil {
			s.metrics.DecodeError()
			logger.WarnF("[%s] Drop malformed frame, details: %v", s.id, err)
			continue
		}
		s.metrics.FrameReceived(payload.Op().String())
		logger.DebugF("[%s] Receive %s frame, data %+v", s.id, payload.Op(), payload)
		s.handleFrame(ctx, payload)
	}
}

// writeLoop 先写 hello，再按 FIFO 写出队列中的帧；第一次写失败后丢弃剩余帧并结束会话
func (s *session) writeLoop(ctx context.Context, hello []byte, done chan<- struct{}) {
	defer close(done)
	queue := s.conn.Queue()
	frame, ok := hello, true
	for {
		if err := s.stream.Send(ctx, frame); err != nil {
			dropped := queue.Discard()
			if ctx.Err() == nil {
				logger.WarnF("[%s] Fail to send frame, %d queued frames discarded, details: %v", s.id, dropped, err)
			}
			s.cancel(&writeError{err: err})
			return
		}
		s.metrics.FrameSent()
		if frame, ok = queue.Pop(); !ok {
			return
		}
	}
}

func handleReadError(connID ids.ConnectionID, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case isTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
