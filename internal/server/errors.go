package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Quota   any    `json:"quota,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware turns domain errors collected on the context
// into one JSON error response with the right status code.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var quotaErr *quotadomain.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "quota_exceeded",
			Message: quotaErr.Error(),
			Quota: gin.H{
				"plan_key": quotaErr.PlanKey,
				"period":   quotaErr.Period,
				"limit":    quotaErr.Limit,
				"used":     quotaErr.Used,
			},
		}
	}

	switch {
	case errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, outletdomain.ErrOutletNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, paymentdomain.ErrIntentNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, tenantdomain.ErrWriteAccessRestricted):
		return http.StatusForbidden, errorPayload{Type: "write_access_restricted", Message: err.Error()}

	case errors.Is(err, leasedomain.ErrCounterOverflow):
		return http.StatusConflict, errorPayload{Type: "counter_overflow", Message: err.Error()}

	case errors.Is(err, leasedomain.ErrInvoiceRangeInvalid),
		errors.Is(err, leasedomain.ErrEmptyClaim),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrIntentAmountZero),
		errors.Is(err, paymentdomain.ErrIntentAmountInvalid),
		errors.Is(err, paymentdomain.ErrOwnerTypeUnknown),
		errors.Is(err, paymentdomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrOwnerNotPayable):
		return http.StatusConflict, errorPayload{Type: "not_payable", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return http.StatusBadGateway, errorPayload{Type: "gateway_unavailable", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
