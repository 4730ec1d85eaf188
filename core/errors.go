package core

import "errors"

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

// Integration lifecycle failures. Each one maps to a stable code via ErrorCode.
var (
	ErrAuthRequired              = errors.New("authentication required")
	ErrCsrfStateMismatch         = errors.New("oauth state mismatch")
	ErrMissingCallbackParameters = errors.New("missing callback parameters")
	ErrTokenExchangeFailed       = errors.New("token exchange failed")
	ErrProfileFetchFailed        = errors.New("profile fetch failed")
	ErrNoRefreshTokenOnRecord    = errors.New("no refresh token found")
	ErrTokenRefreshRejected      = errors.New("failed to refresh token")
	ErrUnsupportedProvider       = errors.New("unsupported provider")
	ErrPublishFailed             = errors.New("failed to publish post")
	ErrPublishNeedsReauth        = errors.New("token expired or invalid, please re-authenticate")
	ErrInvalidPost               = errors.New("invalid post")
	ErrConcurrentTokenUpdate     = errors.New("integration tokens were updated concurrently")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAuthRequired, "auth_required"},
	{ErrCsrfStateMismatch, "invalid_state"},
	{ErrMissingCallbackParameters, "invalid_request"},
	{ErrTokenExchangeFailed, "token_exchange_failed"},
	{ErrProfileFetchFailed, "profile_fetch_failed"},
	{ErrNoRefreshTokenOnRecord, "no_refresh_token"},
	{ErrTokenRefreshRejected, "token_refresh_rejected"},
	{ErrUnsupportedProvider, "unsupported_provider"},
	{ErrPublishNeedsReauth, "needs_reauth"},
	{ErrPublishFailed, "publish_failed"},
	{ErrInvalidPost, "invalid_post"},
	{ErrConcurrentTokenUpdate, "concurrent_update"},
	{ErrNotFound, "not_found"},
}

// ErrorCode returns the wire code for a known failure, or "server_error" for anything else.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "server_error"
}
