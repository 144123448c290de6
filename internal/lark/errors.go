// Package lark provides a typed client for the Feishu/Lark open API with
// rate limiting, automatic retry, token refresh, and error classification.
// Every outbound call in the program funnels through this package.
package lark

import (
	"errors"
	"fmt"
)

// Sentinel errors for API error classification.
// Use errors.Is(err, lark.ErrRateLimited) to check.
var (
	ErrRateLimited  = errors.New("lark: rate limited")
	ErrTokenExpired = errors.New("lark: access token expired")
	ErrForbidden    = errors.New("lark: forbidden")
	ErrNotFound     = errors.New("lark: not found")
	ErrServerError  = errors.New("lark: server error")
	ErrNotLoggedIn  = errors.New("lark: no user token, run login first")
)

// Well-known API error codes.
const (
	codeOK = 0

	// codeRateLimited is the canonical frequency-limit code.
	codeRateLimited = 99991400

	// Token invalid/expired family. All three trigger the refresh path.
	codeAppTokenInvalid  = 99991663
	codeUserTokenInvalid = 99991664
	codeUserTokenExpired = 99991677
)

// APIError wraps a non-zero envelope code with the HTTP status and the
// server message for debugging. Err is the sentinel for errors.Is.
type APIError struct {
	Code       int
	HTTPStatus int
	Msg        string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark: API error %d (HTTP %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyCode maps an API envelope code to a sentinel error.
// Returns nil for code 0.
func classifyCode(code, httpStatus int) error {
	switch code {
	case codeOK:
		return nil
	case codeRateLimited:
		return ErrRateLimited
	case codeAppTokenInvalid, codeUserTokenInvalid, codeUserTokenExpired:
		return ErrTokenExpired
	}

	switch {
	case httpStatus == 403:
		return ErrForbidden
	case httpStatus == 404:
		return ErrNotFound
	case httpStatus >= 500:
		return ErrServerError
	default:
		return nil
	}
}

// isTokenExpiredCode reports whether the code signals an expired or invalid
// access token and a refresh should be attempted before surfacing.
func isTokenExpiredCode(code int) bool {
	switch code {
	case codeAppTokenInvalid, codeUserTokenInvalid, codeUserTokenExpired:
		return true
	default:
		return false
	}
}

// isRetryableCode reports whether the envelope code should be retried.
func isRetryableCode(code int) bool {
	return code == codeRateLimited
}

// isRetryableStatus reports whether the HTTP status should be retried.
func isRetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
