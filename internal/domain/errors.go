package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrBatchFinished is returned when a payout is requested for a batch that already has a result.
	ErrBatchFinished = errors.New("batch already finished")

	// ErrInsufficientFunds is returned when the funding balance cannot cover the batch and its fees.
	ErrInsufficientFunds = errors.New("insufficient funds for batch")
)
