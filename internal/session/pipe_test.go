package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
)

var errPipeClosed = errors.New("pipe closed")

// pipeStream 内存中的 Stream，测试代码扮演客户端
type pipeStream struct {
	inbound  chan []byte
	outbound chan []byte
	fail     chan error
	closed   chan struct{}
	// gate 非 nil 时 Send 在其关闭前阻塞，用来模拟写不动的对端
	gate chan struct{}
	once     sync.Once
	hangup   sync.Once
}

func newPipe() *pipeStream {
	return &pipeStream{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 256),
		fail:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (p *pipeStream) RemoteAddr() string {
	return "pipe"
}

func (p *pipeStream) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-p.closed:
			return errPipeClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case p.outbound <- frame:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-p.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case err := <-p.fail:
		return nil, err
	case <-p.closed:
		return nil, errPipeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeStream) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeStream) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// 以下为客户端侧操作

func (p *pipeStream) send(t *testing.T, payload protocol.Payload) {
	t.Helper()
	p.sendRaw(t, protocol.MustEncode(payload))
}

func (p *pipeStream) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	select {
	case p.inbound <- data:
	case <-time.After(time.Second):
		t.Fatalf("timed out sending frame %s", data)
	}
}

func (p *pipeStream) closeClient() {
	p.hangup.Do(func() { close(p.inbound) })
}

func (p *pipeStream) next(t *testing.T) protocol.Payload {
	t.Helper()
	select {
	case frame := <-p.outbound:
		payload, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode outbound frame %s: %v", frame, err)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound frame")
		return nil
	}
}

func (p *pipeStream) nextEvent(t *testing.T) protocol.MessageCreateEvent {
	t.Helper()
	payload := p.next(t)
	dispatch, ok := payload.(protocol.Dispatch)
	if !ok {
		t.Fatalf("Expected Dispatch frame, got %T %+v", payload, payload)
	}
	event, err := protocol.DecodeMessageCreate(dispatch)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

// sync 用一次心跳往返确认之前发送的帧都已处理完毕，且其间没有其他出站帧
func (p *pipeStream) sync(t *testing.T, nonce uint64) {
	t.Helper()
	p.send(t, protocol.Heartbeat{Nonce: nonce})
	payload := p.next(t)
	ack, ok := payload.(protocol.HeartbeatAck)
	if !ok {
		t.Fatalf("Expected HeartbeatAck, got %T %+v", payload, payload)
	}
	if ack.Nonce != nonce {
		t.Fatalf("HeartbeatAck nonce = %d, want %d", ack.Nonce, nonce)
	}
}
