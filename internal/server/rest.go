package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goevery/livefeed/internal/auth"
	"github.com/goevery/livefeed/internal/handler"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxRequestBody = 64 << 10

type RESTServer struct {
	logger        *zap.Logger
	authenticator *auth.Authenticator

	announceHandler  handler.AnnounceHandlerInterface
	statsHandler     handler.StatsHandlerInterface
	heartbeatHandler handler.HeartbeatHandlerInterface
	metrics          *metrics.Metrics
}

func NewRESTServer(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	announceHandler handler.AnnounceHandlerInterface,
	statsHandler handler.StatsHandlerInterface,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	metrics *metrics.Metrics,
) *RESTServer {
	return &RESTServer{
		logger,
		authenticator,
		announceHandler,
		statsHandler,
		heartbeatHandler,
		metrics,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/announce", s.handleAnnounce).Methods("POST", "OPTIONS")
	router.HandleFunc("/stats", s.handleStats).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

func (s *RESTServer) authenticate(r *http.Request) (context.Context, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))

	authentication, err := s.authenticator.Authenticate(token)
	if err != nil {
		return nil, err
	}

	return auth.WithAuthentication(r.Context(), authentication), nil
}

func (s *RESTServer) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == "OPTIONS" {
		return
	}

	ctx, err := s.authenticate(r)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	var announceRequest handler.AnnounceRequest
	err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&announceRequest)
	if err != nil {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	payload, err := s.announceHandler.Handle(ctx, announceRequest)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, payload)
}

func (s *RESTServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.authenticate(r)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	stats, err := s.statsHandler.Handle(ctx)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, stats)
}

func (s *RESTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, s.heartbeatHandler.Handle())
}
