package handler

import (
	"context"
	"errors"

	"github.com/goevery/livefeed/internal/auth"
	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/goevery/livefeed/internal/publisher"
)

type AnnounceRequest struct {
	Type notification.Type `json:"type"`
}

type AnnounceHandlerInterface interface {
	Handle(ctx context.Context, req AnnounceRequest) (notification.Payload, error)
}

type AnnounceHandler struct {
	eventTypeValidator *EventTypeValidator
	publisher          publisher.PublisherInterface
}

func NewAnnounceHandler(
	eventTypeValidator *EventTypeValidator,
	publisher publisher.PublisherInterface,
) *AnnounceHandler {
	return &AnnounceHandler{
		eventTypeValidator,
		publisher,
	}
}

func (h *AnnounceHandler) Handle(ctx context.Context, req AnnounceRequest) (notification.Payload, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return notification.Payload{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	if !authentication.IsPublisher() {
		return notification.Payload{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to announce changes"))
	}

	err := h.eventTypeValidator.Validate(req.Type)
	if err != nil {
		return notification.Payload{}, err
	}

	return h.publisher.Announce(ctx, req.Type)
}
