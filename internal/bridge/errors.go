// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"errors"

	"github.com/aplane-algo/apbridge/internal/auth"
	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

// Page-visible error codes
const (
	CodeAuthenticationFailed  = "AUTHENTICATION_FAILED"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeUnsupportedMethod     = "UNSUPPORTED_METHOD"
	CodeUserRejected          = "USER_REJECTED"
	CodeNotConnected          = "NOT_CONNECTED"
	CodeAlreadyPending        = "ALREADY_PENDING"
	CodeConnectionFailed      = "CONNECTION_FAILED"
	CodeSignTransactionFailed = "SIGN_TRANSACTION_FAILED"
	CodeSendTransactionFailed = "SEND_TRANSACTION_FAILED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// Numeric statuses follow the EIP-1193 provider error numbering dapps already handle.
var statusByCode = map[string]int{
	CodeAuthenticationFailed:  4100,
	CodeInvalidRequest:        -32602,
	CodeUnsupportedMethod:     4200,
	CodeUserRejected:          4001,
	CodeNotConnected:          4100,
	CodeAlreadyPending:        -32002,
	CodeConnectionFailed:      4900,
	CodeSignTransactionFailed: -32603,
	CodeSendTransactionFailed: -32603,
	CodeRateLimited:           -32005,
	CodeInternalError:         -32603,
}

var (
	// ErrInvalidParams is returned when params do not match the method's schema
	ErrInvalidParams = errors.New("invalid params")

	// ErrUnsupportedMethod is returned for methods the bridge does not know
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrRejected is returned when the user declined or abandoned a confirmation
	ErrRejected = errors.New("user rejected the request")

	// ErrRateLimited is returned when an origin exceeds its request budget
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMalformedRequest is returned when the request envelope cannot be parsed
	ErrMalformedRequest = errors.New("malformed request")
)

// codeFor maps an error from any stage of the pipeline to its page-visible code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		return CodeAuthenticationFailed
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrInvalidParams):
		return CodeInvalidRequest
	case errors.Is(err, ErrUnsupportedMethod):
		return CodeUnsupportedMethod
	case errors.Is(err, ErrRejected):
		return CodeUserRejected
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, confirm.ErrAlreadyPending):
		return CodeAlreadyPending
	case errors.Is(err, wallet.ErrNotConnected):
		return CodeNotConnected
	}

	switch wallet.KindOf(err) {
	case wallet.KindUserRejected:
		return CodeUserRejected
	case wallet.KindNotConnected:
		return CodeNotConnected
	case wallet.KindConnectionFailed:
		return CodeConnectionFailed
	case wallet.KindSignFailed:
		return CodeSignTransactionFailed
	case wallet.KindSendFailed:
		return CodeSendTransactionFailed
	}
	return CodeInternalError
}

// toBridgeError builds the response error body. Authentication failures never
// echo details back to the page.
func toBridgeError(err error) *protocol.BridgeError {
	code := codeFor(err)
	msg := err.Error()
	switch code {
	case CodeAuthenticationFailed:
		msg = "request signature missing or invalid"
	case CodeUserRejected:
		msg = "user rejected the request"
	case CodeInternalError:
		if errors.Is(err, context.Canceled) {
			msg = "request cancelled"
		}
	}
	return &protocol.BridgeError{
		Code:    code,
		Status:  statusByCode[code],
		Message: msg,
	}
}

// errorResponse builds a terminal failure response.
func errorResponse(id string, err error) protocol.BridgeResponse {
	return protocol.BridgeResponse{ID: id, Success: false, Error: toBridgeError(err)}
}
