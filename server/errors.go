package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelai/agentcore/internal/apperror"
)

// errorBody is the JSON shape for every non-2xx response, matching the
// SSE `error` frame's {kind, message} in spec §6/§7.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps the §7 error taxonomy onto HTTP status codes.
// Loop-bound violations and storage errors during an in-flight turn are
// deliberately NOT routed through here: spec §7 says those return HTTP 200
// with an assistant kind=error message, handled directly in handleChat.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.InvalidRequest:
		return http.StatusBadRequest
	case apperror.Unauthorized:
		return http.StatusUnauthorized
	case apperror.ProviderPermanent:
		return http.StatusBadGateway
	case apperror.ProviderTransient:
		return http.StatusServiceUnavailable
	case apperror.StorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if he, ok := err.(*echo.HTTPError); ok {
		_ = c.JSON(he.Code, errorBody{Kind: "invalid_request", Message: httpErrorMessage(he)})
		return
	}

	kind, ok := apperror.Of(err)
	if !ok {
		_ = c.JSON(http.StatusInternalServerError, errorBody{Kind: "storage_error", Message: err.Error()})
		return
	}
	_ = c.JSON(statusFor(kind), errorBody{Kind: string(kind), Message: err.Error()})
}

func httpErrorMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return he.Error()
}
