package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream server error")
	ErrLockHeld     = errors.New("lock already held")

	ErrInvalidWallet   = errors.New("invalid wallet address")
	ErrInvalidPosition = errors.New("invalid position")
	ErrDuplicateMarket = errors.New("duplicate market in snapshot")
)

// Chain store precondition failures. They are returned before anything is
// written and are never retried.
var (
	ErrDuplicateInitialization = errors.New("chain already initialized for wallet")
	ErrEmptyEventSet           = errors.New("append requires at least one change event")
	ErrNoPredecessor           = errors.New("no predecessor snapshot for wallet")

	// ErrChainConflict reports that a concurrent writer moved the chain tail
	// between the precondition check and the commit.
	ErrChainConflict = errors.New("chain tail changed concurrently")
)

// ChainError is the error variant returned by ChainStore writes. Err is one
// of the precondition sentinels above or the underlying storage failure.
type ChainError struct {
	Op     string
	Wallet string
	Err    error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s wallet=%s: %v", e.Op, e.Wallet, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is one of the chain precondition
// failures, as opposed to a storage or integrity failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrDuplicateInitialization) ||
		errors.Is(err, ErrEmptyEventSet) ||
		errors.Is(err, ErrNoPredecessor)
}

// IsTransient reports whether err is worth retrying at the I/O boundary.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream)
}
