package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"roomchat/internal/apperror"
	"roomchat/internal/database"
	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

func statusFor(e *apperror.Error) int {
	switch e.Kind {
	case apperror.KindProtocol, apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindInfrastructure:
		return http.StatusServiceUnavailable
	case apperror.KindInternal:
		return http.StatusInternalServerError
	}

	switch e.Code {
	case apperror.CodeRoomNotFound:
		return http.StatusNotFound
	case apperror.CodeSystemOverload:
		return http.StatusServiceUnavailable
	case apperror.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperror.CodeInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}

// writeError renders err as {code, message} using catalog text.
func writeError(ctx context.Context, w http.ResponseWriter, catalog database.ErrorCatalog, err error) {
	e := apperror.From(err)
	status := statusFor(e)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}

	body := models.ErrorInfo{Code: string(e.Code), Message: string(e.Code)}
	if info, lerr := catalog.Lookup(ctx, string(e.Code)); lerr == nil && info != nil {
		params := e.Params
		if e.Kind == apperror.KindInfrastructure {
			params = nil
		}
		body.Message = database.Render(info.Message, params)
		body.Description = info.Description
	}
	writeJSON(w, status, body)
}
