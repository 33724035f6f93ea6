package jwt

import (
	"errors"
	"fmt"
)

// Sentinel errors for bearer token verification. Every error returned by
// Verifier.Verify wraps exactly one of them.
var (
	// ErrMissingHeader indicates that no Authorization header was sent.
	ErrMissingHeader = errors.New("missing authorization header")

	// ErrMalformedHeader indicates that the header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("malformed authorization header")

	// ErrUnknownSigningKey indicates that the token names no key id or a
	// key id absent from the key set.
	ErrUnknownSigningKey = errors.New("unknown signing key")

	// ErrSignatureInvalid indicates that the token could not be parsed or
	// its signature does not verify under the matched key.
	ErrSignatureInvalid = errors.New("token signature is invalid")

	// ErrExpired indicates that the token's expiry is in the past.
	ErrExpired = errors.New("token has expired")

	// ErrWrongTokenUse indicates that the token is not an access token.
	ErrWrongTokenUse = errors.New("token is not an access token")
)

// Key set errors.
var (
	// ErrKeyNotFound indicates that a key id is not in the key set.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySetUnavailable indicates that the key set could not be fetched.
	ErrKeySetUnavailable = errors.New("key set unavailable")
)

// AuthError is returned by the verifier. Reason is one of the sentinel
// errors above and Cause carries the underlying library error, if any.
type AuthError struct {
	Reason error
	Cause  error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Cause)
	}
	return e.Reason.Error()
}

// Unwrap returns both the reason and the cause.
func (e *AuthError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// Is checks if the error matches the target.
func (e *AuthError) Is(target error) bool {
	_, ok := target.(*AuthError)
	return ok
}

func newAuthError(reason, cause error) *AuthError {
	return &AuthError{Reason: reason, Cause: cause}
}

// reasonLabel maps a sentinel to a bounded metric label.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeader):
		return "missing_header"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrUnknownSigningKey):
		return "unknown_key"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrWrongTokenUse):
		return "wrong_token_use"
	case errors.Is(err, ErrSignatureInvalid):
		return "invalid_signature"
	default:
		return "error"
	}
}
