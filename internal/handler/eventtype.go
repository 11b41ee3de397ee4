package handler

import (
	"errors"
	"regexp"

	"github.com/goevery/livefeed/internal/ierr"
	"github.com/goevery/livefeed/internal/notification"
)

type EventTypeValidator struct {
	eventTypeRegex *regexp.Regexp
}

func NewEventTypeValidator() *EventTypeValidator {
	return &EventTypeValidator{
		eventTypeRegex: regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`),
	}
}

func (v *EventTypeValidator) Validate(eventType notification.Type) error {
	valid := v.eventTypeRegex.MatchString(string(eventType))
	if !valid {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid type"))
	}

	if !eventType.Announceable() {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("type cannot be announced: "+string(eventType)))
	}

	return nil
}
