package stk

import (
	"encoding/json"
	"errors"

	"github.com/noah-isme/stk-gateway/internal/mpesa"
)

var (
	// ErrMissingPaymentFields is returned when phoneNumber or amount is absent.
	ErrMissingPaymentFields = errors.New("stk: phone number and amount are required")
	// ErrMissingCheckoutID is returned when a status query names no checkout request.
	ErrMissingCheckoutID = errors.New("stk: checkout request id is required")
	// ErrInvalidPhone is returned when the phone number cannot be normalized.
	ErrInvalidPhone = mpesa.ErrInvalidPhoneFormat
	// ErrInvalidCallback is returned for callbacks without a Body.stkCallback envelope.
	ErrInvalidCallback = errors.New("stk: invalid callback data")
	// ErrInvalidMetadata is returned for successful callbacks without metadata items.
	ErrInvalidMetadata = errors.New("stk: invalid callback metadata")
)

// RejectedError reports an STK push that Daraja acknowledged with a non-zero ResponseCode.
type RejectedError struct {
	ResponseCode        json.RawMessage
	ResponseDescription string
}

func (e *RejectedError) Error() string {
	return "stk: push rejected: " + e.ResponseDescription
}

// CallbackFailedError reports a callback whose ResultCode is not the number 0,
// e.g. the customer cancelled or had insufficient funds.
type CallbackFailedError struct {
	ResultCode json.RawMessage
	ResultDesc json.RawMessage
}

func (e *CallbackFailedError) Error() string {
	return "stk: payment failed with result code " + string(e.ResultCode)
}
