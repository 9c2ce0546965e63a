package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingCalldata is returned when a quote requiring a signature has no transaction data.
var ErrMissingCalldata = errors.New("quote has no transaction data to append a signature to")

// ValidationError reports malformed or missing request parameters.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Retryable is always false: the same input fails the same way.
func (e *ValidationError) Retryable() bool { return false }

// NewValidationError builds a ValidationError summarizing field violations in a stable order.
func NewValidationError(fields map[string]string, order []string) *ValidationError {
	parts := make([]string, 0, len(fields))
	for _, name := range order {
		if msg, ok := fields[name]; ok {
			parts = append(parts, name+": "+msg)
		}
	}
	return &ValidationError{
		Message: "invalid parameters: " + strings.Join(parts, "; "),
		Fields:  fields,
	}
}

// RateLimitError reports a 429 from the proxy.
type RateLimitError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// Retryable is false at the backoff layer; the wait is usually far longer than a backoff step.
func (e *RateLimitError) Retryable() bool { return false }

// UpstreamError is a non-2xx answer from the swap aggregator.
type UpstreamError struct {
	Status           int
	Message          string
	ValidationErrors []map[string]any
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
}

// Retryable is true for server-side and throttling failures only.
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Operation   string
	Duration    time.Duration
	IsRetryable bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Retryable() bool { return e.IsRetryable }

// CancelledError reports an operation abandoned because its context ended.
type CancelledError struct {
	Operation string
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled", e.Operation)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Retryable() bool { return false }

// SignatureRejectedError means the wallet declined or failed to sign.
type SignatureRejectedError struct {
	Cause error
}

func (e *SignatureRejectedError) Error() string {
	if e.Cause == nil {
		return "signature rejected"
	}
	return "signature rejected: " + e.Cause.Error()
}

func (e *SignatureRejectedError) Unwrap() error { return e.Cause }

func (e *SignatureRejectedError) Retryable() bool { return false }

// SubmissionError means the wallet or RPC refused the transaction. A fresh quote is required.
type SubmissionError struct {
	Cause error
}

func (e *SubmissionError) Error() string {
	if e.Cause == nil {
		return "transaction submission failed"
	}
	return "transaction submission failed: " + e.Cause.Error()
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

func (e *SubmissionError) Retryable() bool { return false }

// IsRetryable reports whether err may be attempted again. Errors that do not say are retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// UserMessage maps pipeline errors to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		validation *ValidationError
		rateLimit  *RateLimitError
		upstream   *UpstreamError
		timeout    *TimeoutError
		cancelled  *CancelledError
		rejected   *SignatureRejectedError
		submission *SubmissionError
	)

	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &rateLimit):
		return fmt.Sprintf("Too many requests. Try again in %d seconds.", int(rateLimit.RetryAfter.Round(time.Second)/time.Second))
	case errors.As(err, &timeout):
		return fmt.Sprintf("The %s request took too long. Please try again.", timeout.Operation)
	case errors.As(err, &cancelled):
		return "The request was cancelled."
	case errors.As(err, &rejected):
		return "The signature request was rejected in your wallet."
	case errors.As(err, &submission):
		return "The transaction could not be submitted. Request a new quote and try again."
	case errors.As(err, &upstream):
		if upstream.Message != "" {
			return upstream.Message
		}
		return "The swap service is unavailable. Please try again."
	case errors.Is(err, ErrMissingCalldata):
		return "The quote is missing transaction data. Request a new quote."
	case errors.Is(err, ErrTransactionReverted):
		return "The swap transaction reverted on chain. Request a new quote and try again."
	default:
		return err.Error()
	}
}

// ErrReceiptPending is returned by receipt watchers while a transaction is not yet mined.
var ErrReceiptPending = errors.New("transaction receipt not yet available")

// ErrTransactionReverted means the transaction was mined but failed.
var ErrTransactionReverted = errors.New("transaction reverted")
