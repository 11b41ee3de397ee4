package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goevery/livefeed/internal/ierr"
	"go.uber.org/zap"
)

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, err error) {
	handlerErr := ierr.From(err)

	var typed ierr.Error
	if !errors.As(err, &typed) {
		logger.Error("unexpected error in http handler", zap.Error(err))
	}

	writeJSON(logger, w, handlerErr.HTTPStatus(), handlerErr)
}

func limitError(reason LimitReason) error {
	if reason == LimitReasonGlobal {
		return ierr.New(ierr.ErrorCodeUnavailable, errors.New("too many connections"))
	}

	return ierr.New(ierr.ErrorCodeResourceExhausted, errors.New("connection limit exceeded: "+string(reason)))
}
