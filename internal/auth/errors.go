package auth

import "errors"

var (
	// ErrMissingFields indicates email or password was not supplied.
	ErrMissingFields = errors.New("missing fields")
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified indicates the principal has not confirmed their email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrPendingApproval indicates an administrator has not approved the account.
	ErrPendingApproval = errors.New("pending approval")
	// ErrTokenInvalid covers malformed, expired and badly signed tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrStoreUnavailable wraps credential store failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrRegistrationClosed indicates the kind cannot self-register.
	ErrRegistrationClosed = errors.New("registration not available")
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrPendingApproval):
		return "pending_approval"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
