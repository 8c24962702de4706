package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Catalog and pricing errors
const (
	ErrCodeInvalidItem         ErrorCode = "invalid_item"
	ErrCodeNotForSale          ErrorCode = "not_for_sale"
	ErrCodeUnsupportedCurrency ErrorCode = "unsupported_currency"
	ErrCodeCurrencyMismatch    ErrorCode = "currency_mismatch"
)

// Gateway errors
const (
	ErrCodeUnsupportedProvider ErrorCode = "unsupported_provider"
	ErrCodeGatewayUnreachable  ErrorCode = "gateway_unreachable"
	ErrCodeGatewayRejected     ErrorCode = "gateway_rejected"
	ErrCodeSimulationDisabled  ErrorCode = "simulation_disabled"
)

// Webhook errors
const (
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeMalformedPayload ErrorCode = "malformed_payload"
	ErrCodeAmountMismatch   ErrorCode = "amount_mismatch"
)

// Validation Errors (Request input validation)
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
	ErrCodeUnauthorized ErrorCode = "unauthorized"
)

// Resource/State Errors
const (
	ErrCodeNotFound       ErrorCode = "not_found"
	ErrCodeDuplicateGrant ErrorCode = "duplicate_grant"
	ErrCodeInProgress     ErrorCode = "request_in_progress"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeRateLimited   ErrorCode = "rate_limited"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient provider or storage issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeGatewayUnreachable,
		ErrCodeDatabaseError,
		ErrCodeRateLimited,
		ErrCodeInProgress:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeInvalidItem,
		ErrCodeNotForSale,
		ErrCodeUnsupportedCurrency,
		ErrCodeCurrencyMismatch,
		ErrCodeUnsupportedProvider,
		ErrCodeInvalidSignature,
		ErrCodeMalformedPayload,
		ErrCodeMissingField,
		ErrCodeInvalidField:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeNotFound,
		ErrCodeSimulationDisabled:
		return 404

	case ErrCodeDuplicateGrant,
		ErrCodeInProgress:
		return 409

	case ErrCodeAmountMismatch:
		return 422

	case ErrCodeRateLimited:
		return 429

	// 502 Bad Gateway - Provider errors
	case ErrCodeGatewayUnreachable,
		ErrCodeGatewayRejected:
		return 502

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
