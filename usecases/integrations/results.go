package integrations

import (
	"errors"
	"log"
	"runtime/debug"

	"socialbackend/core"
	"socialbackend/models"
)

func authRequired[T any]() models.Result[T] {
	result := models.Fail[T]("Authentication required", core.ErrorCode(core.ErrAuthRequired))
	result.RedirectTo = signInPath
	return result
}

func notConnected[T any](provider string) models.Result[T] {
	result := models.Fail[T](provider+" is not connected", core.ErrorCode(core.ErrNotFound))
	result.RedirectTo = integrationsPagePath
	return result
}

// failure maps known errors to their message and code. Anything else is reported as a server error
// without leaking its text.
func failure[T any](err error) models.Result[T] {
	code := core.ErrorCode(err)
	if code == "server_error" {
		return models.Fail[T]("Internal server error", code)
	}
	if errors.Is(err, core.ErrAuthRequired) {
		return authRequired[T]()
	}
	return models.Fail[T](err.Error(), code)
}

// callbackCodes are the authentication failures whose code may appear in the redirect URL
var callbackCodes = map[string]bool{
	"invalid_request":       true,
	"token_exchange_failed": true,
	"profile_fetch_failed":  true,
	"unsupported_provider":  true,
}

// authenticationFailure turns a failed exchange into a callback result carrying only a known code
func authenticationFailure[T any](provider string, details *models.AuthTokenDetails) models.Result[T] {
	code, message := "server_error", "Internal server error"
	if details != nil {
		log.Printf("❌ %s authentication failed: %s", provider, details.Error)
		if callbackCodes[details.Code] {
			code, message = details.Code, details.Error
		}
	}
	return callbackFailure[T](provider, code, message, code)
}

func callbackErrorURL(code string) string {
	return integrationsPagePath + "?error=" + code
}

// callbackFailure builds a failed callback result. errorParam must already be URL-safe.
func callbackFailure[T any](provider, errorParam, message, code string) models.Result[T] {
	log.Printf("❌ %s callback failed: %s", provider, message)
	result := models.Fail[T](message, code)
	result.RedirectTo = callbackErrorURL(errorParam)
	return result
}

// recoverResult turns a panic into a failed result. redirectTo is set on the result when non-empty.
func recoverResult[T any](result *models.Result[T], operation, redirectTo string) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("❌ Panic during %s: %v\n%s", operation, r, debug.Stack())
	*result = models.Fail[T]("Internal server error", "server_error")
	result.RedirectTo = redirectTo
}
