package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

type loginResponse struct {
	Token  ids.Token  `json:"token"`
	UserID ids.UserID `json:"user_id"`
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	if s.baseCtx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	select {
	case s.sem <- struct{}{}:
	default:
		logger.WarnF("[%s] Connection limit %d reached, rejecting", r.RemoteAddr, cap(s.sem))
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-s.sem }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		logger.WarnF("[%s] Fail to upgrade connection, details: %v", r.RemoteAddr, err)
		return
	}
	logger.DebugF("Accepted new connection from %s", r.RemoteAddr)

	stream := newWSStream(conn, r.RemoteAddr, s.config.Gateway.MaxMessageSize, s.config.WriteTimeout())
	if err := s.driver.Serve(s.baseCtx, stream); err != nil && !isNetClosedError(err) {
		logger.DebugF("[%s] Session ended with error: %v", r.RemoteAddr, err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		http.Error(w, "login disabled", http.StatusNotFound)
		return
	}
	token, user, err := s.issuer.Login(r.Context())
	if err != nil {
		logger.ErrorF("[%s] Fail to issue token, details: %v", r.RemoteAddr, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	logger.InfoF("[%s] Issued token for user %s", r.RemoteAddr, user)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logger.WarnF("Fail to write response, details: %v", err)
	}
}
