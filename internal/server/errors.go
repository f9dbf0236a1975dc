package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	gatewaydomain "github.com/smallbiznis/featuregate/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("authentication_required")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// denials maps access-check failures to their status.
var denials = []struct {
	err    error
	status int
}{
	{entitlementdomain.ErrFeatureUnavailable, http.StatusNotFound},
	{entitlementdomain.ErrSubscriptionMissing, http.StatusForbidden},
	{entitlementdomain.ErrSubscriptionDisabled, http.StatusForbidden},
	{entitlementdomain.ErrSubscriptionExpired, http.StatusForbidden},
	{entitlementdomain.ErrUserAccessDenied, http.StatusForbidden},
	{entitlementdomain.ErrQuotaExceeded, http.StatusTooManyRequests},
	{ledgerdomain.ErrInsufficientCredits, http.StatusPaymentRequired},
}

var validationSentinels = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	gatewaydomain.ErrInvalidTenant,
	gatewaydomain.ErrInvalidUser,
	gatewaydomain.ErrInputRequired,
	gatewaydomain.ErrInputTooLarge,
	gatewaydomain.ErrInvalidFile,
	gatewaydomain.ErrFileTooLarge,
	providerdomain.ErrInvalidID,
	providerdomain.ErrInvalidName,
	providerdomain.ErrInvalidType,
	providerdomain.ErrInvalidStatus,
	providerdomain.ErrInvalidEndpoint,
	featuredomain.ErrInvalidID,
	featuredomain.ErrInvalidCode,
	featuredomain.ErrInvalidName,
	featuredomain.ErrInvalidProvider,
	featuredomain.ErrInvalidCreditsPerUse,
	featuredomain.ErrInvalidMaxTokens,
	featuredomain.ErrInvalidTemperature,
	subscriptiondomain.ErrInvalidTenant,
	subscriptiondomain.ErrInvalidUser,
	subscriptiondomain.ErrInvalidFeature,
	subscriptiondomain.ErrInvalidLimit,
	subscriptiondomain.ErrInvalidCreditsPerUse,
	ledgerdomain.ErrInvalidTenant,
	ledgerdomain.ErrInvalidAmount,
	ledgerdomain.ErrInvalidTransactionType,
	ledgerdomain.ErrInvalidThreshold,
	ledgerdomain.ErrInvalidPageToken,
	alertdomain.ErrInvalidID,
	alertdomain.ErrInvalidTenant,
	alertdomain.ErrInvalidType,
	alertdomain.ErrInvalidSeverity,
	alertdomain.ErrInvalidMessage,
	alertdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	usagedomain.ErrInvalidTenant,
	usagedomain.ErrInvalidUser,
	usagedomain.ErrInvalidFeature,
	usagedomain.ErrInvalidPageToken,
}

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
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := validationSentinel(err); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	for _, denial := range denials {
		if errors.Is(err, denial.err) {
			return denial.status, errorPayload{
				Code:    denial.err.Error(),
				Message: denialMessage(denial.err),
			}
		}
	}

	if status, payload, ok := mapProviderError(err); ok {
		return status, payload
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Code:    "authentication_required",
			Message: "authentication required",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Code:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Code:    "rate_limited",
			Message: "too many requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Code:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Code:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Code:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

// mapProviderError surfaces the caller-facing message of a failed provider call.
func mapProviderError(err error) (int, errorPayload, bool) {
	message := "the AI provider could not complete the request"
	var providerErr *gatewaydomain.ProviderError
	if errors.As(err, &providerErr) && strings.TrimSpace(providerErr.Message) != "" {
		message = providerErr.Message
	}

	switch {
	case errors.Is(err, adapters.ErrTransport):
		return http.StatusGatewayTimeout, errorPayload{Code: "transport_error", Message: message}, true
	case errors.Is(err, adapters.ErrProviderConfiguration):
		return http.StatusBadGateway, errorPayload{Code: "provider_configuration_error", Message: message}, true
	case errors.Is(err, adapters.ErrProviderExecution):
		return http.StatusBadGateway, errorPayload{Code: "provider_execution_error", Message: message}, true
	default:
		return 0, errorPayload{}, false
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Code, payload.Errors[0].Code
	}
	return payload.Code, payload.Code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationSentinel(err error) error {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, providerdomain.ErrNotFound),
		errors.Is(err, featuredomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrFeatureNotFound),
		errors.Is(err, alertdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, providerdomain.ErrNameTaken),
		errors.Is(err, providerdomain.ErrProviderInUse),
		errors.Is(err, featuredomain.ErrCodeTaken),
		errors.Is(err, featuredomain.ErrArchived),
		errors.Is(err, featuredomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrFeatureNotPublished),
		errors.Is(err, alertdomain.ErrAlreadyResolved):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, providerdomain.ErrNameTaken):
		return "provider name already in use"
	case errors.Is(err, providerdomain.ErrProviderInUse):
		return "provider is referenced by features"
	case errors.Is(err, featuredomain.ErrCodeTaken):
		return "feature code already in use"
	case errors.Is(err, featuredomain.ErrArchived):
		return "feature is archived"
	case errors.Is(err, featuredomain.ErrInvalidTransition):
		return "feature status transition not allowed"
	case errors.Is(err, subscriptiondomain.ErrFeatureNotPublished):
		return "feature is not published"
	case errors.Is(err, alertdomain.ErrAlreadyResolved):
		return "alert already resolved"
	default:
		return "conflict"
	}
}

func denialMessage(err error) string {
	switch {
	case errors.Is(err, entitlementdomain.ErrFeatureUnavailable):
		return "feature is not available"
	case errors.Is(err, entitlementdomain.ErrSubscriptionMissing):
		return "tenant is not subscribed to this feature"
	case errors.Is(err, entitlementdomain.ErrSubscriptionDisabled):
		return "subscription is disabled"
	case errors.Is(err, entitlementdomain.ErrSubscriptionExpired):
		return "subscription has expired"
	case errors.Is(err, entitlementdomain.ErrUserAccessDenied):
		return "feature is disabled for this user"
	case errors.Is(err, entitlementdomain.ErrQuotaExceeded):
		return "usage limit reached"
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return "insufficient credits"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "input_required", "input_too_large":
		return "input"
	case "invalid_file", "file_too_large":
		return "file"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "input_required":
		return "input is required"
	case "input_too_large":
		return "input exceeds the allowed size"
	case "file_too_large":
		return "file exceeds the allowed size"
	case "invalid_file":
		return "file must be a base64 encoded image"
	case "invalid_page_token":
		return "invalid page token"
	default:
		return "invalid value"
	}
}
