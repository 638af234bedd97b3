// internal/httpapi/error_mapper.go
package httpapi

import (
	"errors"
	"net/http"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Field      string `json:"field,omitempty"`
	Gateway    string `json:"gateway,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// mapError translates the domain error taxonomy into a status and body.
func mapError(err error) (int, errorBody) {
	var (
		validation *domainErr.ValidationError
		gateway    *domainErr.GatewayError
	)
	switch {
	case errors.Is(err, domainErr.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthenticated"}
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorBody{Error: validation.Error(), Code: "invalid_input", Field: validation.Field}
	case errors.Is(err, domainErr.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"}
	case errors.Is(err, domainErr.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorBody{Error: "insufficient credits", Code: "insufficient_credits"}
	case errors.Is(err, domainErr.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"}
	case errors.Is(err, domainErr.ErrMisconfigured):
		return http.StatusInternalServerError, errorBody{Error: "service misconfigured", Code: "misconfigured"}
	case errors.As(err, &gateway):
		return http.StatusBadGateway, errorBody{
			Error:      "payment gateway rejected the request",
			Code:       "gateway_rejected",
			Gateway:    gateway.Gateway,
			Diagnostic: gateway.Diagnostic,
		}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
	}
}

func abortWithError(c *gin.Context, err error) {
	status, body := mapError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// bindJSON answers 400 itself when the body does not decode.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "request body is not valid JSON", Code: "invalid_input"})
		return false
	}
	return true
}
