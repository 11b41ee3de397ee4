package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	transportSSE       = "sse"
	heartbeatComment   = ": heartbeat\n\n"
	defaultHeartbeat   = 20 * time.Second
	defaultClientQueue = 16
)

type StreamSettings struct {
	HeartbeatInterval time.Duration
	BufferSize        int
}

func (s StreamSettings) withDefaults() StreamSettings {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = defaultHeartbeat
	}
	if s.BufferSize <= 0 {
		s.BufferSize = defaultClientQueue
	}

	return s
}

// StreamServer serves the live feed as server-sent events. The stream is
// public: anyone may listen, nobody may write through it.
type StreamServer struct {
	logger   *zap.Logger
	registry broadcaster.Registry
	limiter  *ConnectionLimiter
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	settings StreamSettings
}

func NewStreamServer(
	logger *zap.Logger,
	registry broadcaster.Registry,
	limiter *ConnectionLimiter,
	metrics *metrics.Metrics,
	clock clockwork.Clock,
	settings StreamSettings,
) *StreamServer {
	return &StreamServer{
		logger,
		registry,
		limiter,
		metrics,
		clock,
		settings.withDefaults(),
	}
}

func (s *StreamServer) Register(router *mux.Router) {
	router.HandleFunc("/events", s.handleEvents).Methods("GET")
}

func (s *StreamServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeInternal, errors.New("streaming unsupported")))
		return
	}

	ip := s.limiter.ClientIP(r)

	admitted, reason := s.limiter.Acquire(ip)
	if !admitted {
		s.metrics.ConnectionRejected(string(reason))
		writeError(s.logger, w, limitError(reason))
		return
	}
	defer s.limiter.Release(ip)

	clientId := uuid.NewString()
	channel := broadcaster.NewQueueChannel(s.settings.BufferSize)
	logger := s.logger.With(
		zap.String("clientId", clientId),
		zap.String("clientIp", ip))

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("Access-Control-Allow-Origin", "*")

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := greet(channel, clientId)
	if err != nil {
		logger.Error("failed to greet stream connection", zap.Error(err))
		return
	}

	err = s.registry.Register(clientId, channel)
	if err != nil {
		logger.Error("failed to register stream connection", zap.Error(err))
		return
	}
	defer s.registry.Unregister(clientId)

	s.metrics.ConnectionOpened(transportSSE)
	defer s.metrics.ConnectionClosed(transportSSE)

	logger.Info("stream connection opened")

	ticker := s.clock.NewTicker(s.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("stream connection closed by client")
			return
		case <-channel.Done():
			logger.Info("stream connection closed by server")
			return
		case data := <-channel.Queue():
			_, err := w.Write(notification.Frame(data))
			if err != nil {
				logger.Debug("failed to write event", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.Chan():
			_, err := io.WriteString(w, heartbeatComment)
			if err != nil {
				logger.Debug("failed to write heartbeat", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// greet queues the private greeting on a channel that is not registered yet,
// so no broadcast can overtake it.
func greet(channel broadcaster.Channel, clientId string) error {
	data, err := notification.Encode(notification.Connected(clientId))
	if err != nil {
		return err
	}

	return channel.Send(data)
}
