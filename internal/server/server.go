// Package server 将会话驱动挂到 HTTP/WebSocket 传输上
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	c "github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TokenIssuer interface {
	Login(ctx context.Context) (ids.Token, ids.UserID, error)
}

type Server struct {
	config   c.Config
	driver   *session.Driver
	issuer   TokenIssuer
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	// sem 限制并发会话数，关闭时占满全部槽位以等待会话结束
	sem chan struct{}

	baseCtx    context.Context
	cancel     context.CancelCauseFunc
	httpServer *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewServer(config c.Config, driver *session.Driver, issuer TokenIssuer, gatherer prometheus.Gatherer) *Server {
	baseCtx, cancel := context.WithCancelCause(context.Background())
	s := &Server{
		config:   config,
		driver:   driver,
		issuer:   issuer,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.Gateway.ReadBufferSize,
			WriteBufferSize: config.Gateway.WriteBufferSize,
			// 网关客户端不是浏览器页面，不做同源检查
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sem:     make(chan struct{}, config.Gateway.MaxConnections),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/gateway", s.handleGateway)
	r.Get("/ws", s.handleGateway)
	r.Post("/login", s.handleLogin)
	r.Get("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// StartServer 阻塞直到监听失败或 Shutdown 被调用
func (s *Server) StartServer() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.AppPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.AppPort, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	logger.InfoF("Chat Gateway Listen On %s", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收新连接，以 ErrServerShutdown 结束所有会话并等待其清理完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.cancel(session.ErrServerShutdown)
	err := s.httpServer.Shutdown(ctx)

	for i := 0; i < cap(s.sem); i++ {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return errors.Join(err, fmt.Errorf("waiting for sessions: %w", ctx.Err()))
		}
	}
	logger.InfoF("All gateway sessions closed")
	return err
}

// Invoke 让 Server 可以注册到 event.Cleaner
func (s *Server) Invoke(ctx context.Context) error {
	logger.InfoF("Shutting down chat gateway")
	return s.Shutdown(ctx)
}
