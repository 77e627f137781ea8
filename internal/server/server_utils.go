package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

const closeGracePeriod = time.Second

// wsStream 把 gorilla 连接适配为 session.Stream，一条文本消息即一帧
type wsStream struct {
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSStream(conn *websocket.Conn, remoteAddr string, maxMessageSize int64, writeTimeout time.Duration) *wsStream {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &wsStream{
		conn:         conn,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
	}
}

func (s *wsStream) RemoteAddr() string {
	return s.remoteAddr
}

func (s *wsStream) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Receive 对端正常关闭时返回 io.EOF；二进制消息被忽略
func (s *wsStream) Receive(_ context.Context) ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType != websocket.TextMessage {
			logger.DebugF("[%s] Ignore non-text message type %d", s.remoteAddr, messageType)
			continue
		}
		return data, nil
	}
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		if err := s.conn.Close(); err != nil && !isNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", s.remoteAddr, err)
			s.closeErr = err
		}
	})
	return s.closeErr
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.DebugF("[%s] %s %s -> %d (%v)", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
