package server

import (
	"net/http"
	"time"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	transportWebSocket = "websocket"
	writeWait          = 10 * time.Second
	readLimit          = 1024
)

// WebSocketServer mirrors the event stream for clients that prefer a
// socket. Messages carry the same JSON as the SSE data lines.
type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	registry broadcaster.Registry
	limiter  *ConnectionLimiter
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	settings StreamSettings
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	registry broadcaster.Registry,
	limiter *ConnectionLimiter,
	metrics *metrics.Metrics,
	clock clockwork.Clock,
	settings StreamSettings,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		registry,
		limiter,
		metrics,
		clock,
		settings.withDefaults(),
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/events/ws", s.handleWebSocket).Methods("GET")
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.limiter.ClientIP(r)

	admitted, reason := s.limiter.Acquire(ip)
	if !admitted {
		s.metrics.ConnectionRejected(string(reason))
		writeError(s.logger, w, limitError(reason))
		return
	}
	defer s.limiter.Release(ip)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(readLimit)

	clientId := uuid.NewString()
	channel := broadcaster.NewQueueChannel(s.settings.BufferSize)
	logger := s.logger.With(
		zap.String("clientId", clientId),
		zap.String("clientIp", ip))

	err = greet(channel, clientId)
	if err != nil {
		logger.Error("failed to greet websocket connection", zap.Error(err))
		return
	}

	err = s.registry.Register(clientId, channel)
	if err != nil {
		logger.Error("failed to register websocket connection", zap.Error(err))
		return
	}
	defer s.registry.Unregister(clientId)

	s.metrics.ConnectionOpened(transportWebSocket)
	defer s.metrics.ConnectionClosed(transportWebSocket)

	logger.Info("websocket connection established")

	pongWait := 2 * s.settings.HeartbeatInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients never send data; reading only surfaces close frames and
	// keeps the pong handler running.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := s.clock.NewTicker(s.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			logger.Info("websocket connection closed by client")
			return
		case <-channel.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))

			logger.Info("websocket connection closed by server")
			return
		case data := <-channel.Queue():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			err := conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				logger.Debug("failed to write websocket message", zap.Error(err))
				return
			}
		case <-ticker.Chan():
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				logger.Debug("failed to ping websocket connection", zap.Error(err))
				return
			}
		}
	}
}
