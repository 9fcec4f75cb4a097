package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/services"
	"github.com/LCodingX/influence-dashboard/internal/vault"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError translates the service/backend error taxonomy into
// the HTTP envelope. Unknown errors stay 500 with their message intact.
func RespondServiceError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		RespondError(c, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, services.ErrJobNotFound):
		RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, services.ErrResultsNotReady):
		RespondError(c, http.StatusConflict, "results_not_ready", err)
	case errors.Is(err, backend.ErrAuthentication):
		RespondError(c, http.StatusUnauthorized, "backend_authentication", err)
	case errors.Is(err, backend.ErrEndpointUnavailable):
		RespondError(c, http.StatusServiceUnavailable, "backend_unavailable", err)
	case errors.Is(err, backend.ErrTimeout):
		RespondError(c, http.StatusGatewayTimeout, "backend_timeout", err)
	case errors.Is(err, backend.ErrHostedNotConfigured):
		RespondError(c, http.StatusServiceUnavailable, "no_backend_configured", err)
	case errors.Is(err, vault.ErrDecryption):
		RespondError(c, http.StatusConflict, "credential_unreadable",
			errors.New("stored credential could not be decrypted; reconfigure your credential"))
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
