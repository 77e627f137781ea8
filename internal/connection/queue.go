package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// OverflowPolicy 出站队列满时的处理方式
type OverflowPolicy int

const (
	// OverflowBlock 生产者等待空位（受其 context 约束）
	OverflowBlock OverflowPolicy = iota
	// OverflowDropOldest 丢弃队首最旧的帧
	OverflowDropOldest
	// OverflowDisconnect 拒绝入队，由调用方断开慢消费者
	OverflowDisconnect
)

var (
	ErrQueueClosed   = errors.New("outbound queue closed")
	ErrQueueOverflow = errors.New("outbound queue overflow")
)

var overflowPolicyNames = map[OverflowPolicy]string{
	OverflowBlock:      "block",
	OverflowDropOldest: "drop_oldest",
	OverflowDisconnect: "disconnect",
}

func (p OverflowPolicy) String() string {
	return overflowPolicyNames[p]
}

func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	for policy, n := range overflowPolicyNames {
		if n == name {
			return policy, nil
		}
	}
	return OverflowBlock, fmt.Errorf("unknown overflow policy %q", name)
}

// Queue 单连接的 FIFO 出站队列，多生产者单消费者
// capacity 为 0 时不限长度，此时 policy 不生效
type Queue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	policy   OverflowPolicy
	closed   bool
	dropped  uint64

	notify chan struct{} // 有新帧
	space  chan struct{} // 有空位
	done   chan struct{} // 已关闭
}

func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push 追加一帧；队列关闭后返回 ErrQueueClosed
func (q *Queue) Push(ctx context.Context, frame []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, frame)
			if q.capacity > 0 && len(q.items) < q.capacity {
				signal(q.space)
			}
			q.mu.Unlock()
			signal(q.notify)
			return nil
		}
		switch q.policy {
		case OverflowDropOldest:
			q.items[0] = nil
			q.items = append(q.items[1:], frame)
			q.dropped++
			q.mu.Unlock()
			signal(q.notify)
			return nil
		case OverflowDisconnect:
			q.mu.Unlock()
			return ErrQueueOverflow
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop 阻塞直到取到一帧；队列关闭且已排空时返回 false
func (q *Queue) Pop() ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			frame := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			signal(q.space)
			return frame, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Close 不再接受新帧，已入队的帧仍可被 Pop 取出
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Discard 关闭队列并丢弃所有未发送的帧，写协程失败后调用
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
