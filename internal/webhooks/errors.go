package webhooks

import "fmt"

// Error codes surfaced to callers. Codes map 1:1 to HTTP statuses.
const (
	CodeFeatureFlagDisabled   = "FEATURE_FLAG_DISABLED"
	CodeForbiddenTenantScope  = "FORBIDDEN_TENANT_SCOPE"
	CodeInvalidWebhookURL     = "INVALID_WEBHOOK_URL"
	CodeInvalidEventTypes     = "INVALID_WEBHOOK_EVENT_TYPES"
	CodeInvalidIdempotencyKey = "INVALID_IDEMPOTENCY_KEY"
	CodeClientNotFound        = "INTEGRATION_CLIENT_NOT_FOUND"
	CodeClientKillSwitch      = "INTEGRATION_CLIENT_KILL_SWITCH_ACTIVE"
	CodeRateLimited           = "WEBHOOK_RATE_LIMITED"
	CodeCircuitOpen           = "WEBHOOK_CIRCUIT_OPEN"
	CodeEndpointNotFound      = "WEBHOOK_ENDPOINT_NOT_FOUND"
	CodeDeliveryNotFound      = "WEBHOOK_DELIVERY_NOT_FOUND"
)

var codeStatus = map[string]int{
	CodeFeatureFlagDisabled:   409,
	CodeForbiddenTenantScope:  403,
	CodeInvalidWebhookURL:     400,
	CodeInvalidEventTypes:     400,
	CodeInvalidIdempotencyKey: 400,
	CodeClientNotFound:        404,
	CodeClientKillSwitch:      409,
	CodeRateLimited:           429,
	CodeCircuitOpen:           503,
	CodeEndpointNotFound:      404,
	CodeDeliveryNotFound:      404,
}

// Error is a typed dispatch error carrying the taxonomy code and the HTTP
// status the API layer should render.
type Error struct {
	Code   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewError builds an Error for a known code. Unknown codes map to 500.
func NewError(code, detail string) *Error {
	status := codeStatus[code]
	if status == 0 {
		status = 500
	}
	return &Error{Code: code, Status: status, Detail: detail}
}

// AsError returns err as *Error if it is one.
func AsError(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
