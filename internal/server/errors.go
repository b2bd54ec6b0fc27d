package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	"github.com/smallbiznis/meterline/internal/providers/billing/webhook"
	reconcilerdomain "github.com/smallbiznis/meterline/internal/reconciler/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	trialdomain "github.com/smallbiznis/meterline/internal/trial/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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
		c.Header("Content-Type", "application/json")
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

func invalidRequestError() error {
	return ErrInvalidRequest
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, subscriptiondomain.ErrProviderCallFailed),
		errors.Is(err, trialdomain.ErrProviderCallFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "billing provider call failed",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, webhook.ErrInvalidEvent),
		errors.Is(err, reconcilerdomain.ErrMissingEventID),
		errors.Is(err, reconcilerdomain.ErrMissingEntityID),
		errors.Is(err, reconcilerdomain.ErrInvalidPeriod),
		errors.Is(err, plantierdomain.ErrInvalidTierID),
		errors.Is(err, plantierdomain.ErrInvalidCode),
		errors.Is(err, plantierdomain.ErrInvalidAllowance),
		errors.Is(err, subscriptiondomain.ErrInvalidEntityID),
		errors.Is(err, subscriptiondomain.ErrInvalidQuantity),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotLive),
		errors.Is(err, subscriptiondomain.ErrMissingProviderSubRef),
		errors.Is(err, subscriptiondomain.ErrTierHasNoAddon),
		errors.Is(err, trialdomain.ErrInvalidEntityID),
		errors.Is(err, trialdomain.ErrInvalidDuration),
		errors.Is(err, trialdomain.ErrNotTrialing),
		errors.Is(err, usageperioddomain.ErrInvalidEntityID),
		errors.Is(err, usageperioddomain.ErrInvalidTierID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, plantierdomain.ErrTierNotFound),
		errors.Is(err, plantierdomain.ErrNoDefaultTier),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, usageperioddomain.ErrNoUsagePeriod),
		errors.Is(err, usageperioddomain.ErrNoEntitlement),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, plantierdomain.ErrTierInUse),
		errors.Is(err, plantierdomain.ErrDuplicateCode),
		errors.Is(err, trialdomain.ErrAlreadySubscribed):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
