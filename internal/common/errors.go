// Package common holds the error taxonomy shared by the ledger, escrow,
// order and auction services. Handlers map these errors to HTTP statuses.
package common

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Ledger errors
var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInsufficientFunds is returned when spendable balance is too low.
	ErrInsufficientFunds = errors.New("insufficient spendable balance")
	// ErrConcurrencyConflict means the row version changed under us; retry with fresh state.
	ErrConcurrencyConflict = errors.New("concurrent modification, retry")
	// ErrInvalidState is returned when the wallet or hold state forbids the operation.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrWalletClosed is returned for mutations on a closed wallet.
	ErrWalletClosed = errors.New("wallet is closed")
)

// Idempotency errors
var (
	// ErrDuplicateIdempotencyKey marks a replayed key in logs and metrics; the
	// prior result is returned instead of an error.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already applied")
	// ErrIdempotencyKeyReused is returned when a key is replayed for a different operation.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different operation")
)

// Order and auction errors
var (
	ErrInvalidStateTransition   = errors.New("transition not allowed from current state")
	ErrCancellationWindowClosed = errors.New("cancellation window has closed")
	ErrBidTooLow                = errors.New("bid must exceed the current top bid")
	// ErrAlreadyClosed marks a repeated close in logs and metrics; the caller
	// gets the existing result.
	ErrAlreadyClosed = errors.New("auction already closed")
)

// Generic errors
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// HTTPStatus maps an error from the taxonomy to a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, ErrConcurrencyConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrCancellationWindowClosed),
		errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrWalletClosed),
		errors.Is(err, ErrIdempotencyKeyReused):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// Code returns a stable machine-readable name for an error in the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, ErrInvalidStateTransition):
		return "InvalidStateTransition"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrCancellationWindowClosed):
		return "CancellationWindowClosed"
	case errors.Is(err, ErrBidTooLow):
		return "BidTooLow"
	case errors.Is(err, ErrWalletClosed):
		return "WalletClosed"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "IdempotencyKeyReused"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "DuplicateIdempotencyKey"
	case errors.Is(err, ErrAlreadyClosed):
		return "AlreadyClosed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	default:
		return "Internal"
	}
}
