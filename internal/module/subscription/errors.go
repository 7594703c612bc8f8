package subscription

import "errors"

// Subscription ledger errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoLiveSubscription   = errors.New("no live subscription")
	ErrSubscriptionExists   = errors.New("live subscription already exists")
	ErrAlreadyCanceled      = errors.New("subscription already canceled")
	ErrConcurrentChange     = errors.New("concurrent subscription change")
)
