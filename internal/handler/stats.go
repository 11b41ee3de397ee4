package handler

import (
	"context"
	"errors"

	"github.com/goevery/livefeed/internal/auth"
	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/ierr"
)

type StatsResponse struct {
	ConnectedClients int      `json:"connectedClients"`
	ClientIds        []string `json:"clientIds"`
}

type StatsHandlerInterface interface {
	Handle(ctx context.Context) (StatsResponse, error)
}

type StatsHandler struct {
	registry broadcaster.Registry
}

func NewStatsHandler(registry broadcaster.Registry) *StatsHandler {
	return &StatsHandler{registry}
}

func (h *StatsHandler) Handle(ctx context.Context) (StatsResponse, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return StatsResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	if !authentication.IsPublisher() {
		return StatsResponse{}, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to read stats"))
	}

	ids := h.registry.Ids()

	return StatsResponse{
		ConnectedClients: len(ids),
		ClientIds:        ids,
	}, nil
}
