package errors

// ErrorCode represents a machine-readable error identifier attached to
// every failed payment outcome.
type ErrorCode string

// Configuration and input errors
const (
	ErrCodeConfig        ErrorCode = "config_error"
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeValidation    ErrorCode = "validation_error"
)

// Webhook errors
const (
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
)

// Wallet errors
const (
	ErrCodeWalletNotFound ErrorCode = "wallet_not_found"
	ErrCodeWalletFrozen   ErrorCode = "wallet_frozen"
	ErrCodeWalletBusy     ErrorCode = "wallet_busy"
	ErrCodeWalletError    ErrorCode = "wallet_error"
)

// Payment and routing errors
const (
	ErrCodeNoAdapter           ErrorCode = "no_adapter_found"
	ErrCodePaymentFailed       ErrorCode = "payment_failed"
	ErrCodeGuardBlocked        ErrorCode = "guard_blocked"
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"
	ErrCodeIdempotencyConflict ErrorCode = "idempotency_conflict"
)

// Protocol errors (staged by flow)
const (
	ErrCodeProtocol         ErrorCode = "protocol_error"
	ErrCodeX402Requirements ErrorCode = "x402_requirements"
	ErrCodeX402Verification ErrorCode = "x402_verification"
	ErrCodeX402Settlement   ErrorCode = "x402_settlement"
	ErrCodeX402Access       ErrorCode = "x402_access"

	ErrCodeCrosschainApprove ErrorCode = "crosschain_approve"
	ErrCodeCrosschainBurn    ErrorCode = "crosschain_burn"
	ErrCodeCrosschainAttest  ErrorCode = "crosschain_attest"
	ErrCodeCrosschainMint    ErrorCode = "crosschain_mint"
	ErrCodeGasInsufficient   ErrorCode = "gas_insufficient"
)

// External service errors
const (
	ErrCodeNetworkError       ErrorCode = "network_error"
	ErrCodeRPCError           ErrorCode = "rpc_error"
	ErrCodeProviderError      ErrorCode = "provider_error"
	ErrCodeRateLimited        ErrorCode = "rate_limited"
	ErrCodeTransactionTimeout ErrorCode = "transaction_timeout"
	ErrCodeCircuitOpen        ErrorCode = "circuit_open"
)

// Trust gate errors
const (
	ErrCodeTrustBlocked  ErrorCode = "trust_blocked"
	ErrCodeTrustHeld     ErrorCode = "trust_held"
	ErrCodeRegistryError ErrorCode = "registry_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStorageError  ErrorCode = "storage_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not
// validation or policy failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeNetworkError,
		ErrCodeRPCError,
		ErrCodeProviderError,
		ErrCodeRateLimited,
		ErrCodeTransactionTimeout:
		return true

	// Validation, policy, and permanent failures are NOT retryable
	default:
		return false
	}
}
