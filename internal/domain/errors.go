package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrContextDone   = errors.New("context cancelled")

	// ErrGroupCapReached means risk_limits.group_max open groups already
	// exist; the opportunity must be deferred (not acknowledged) for
	// consumer-group redelivery.
	ErrGroupCapReached = errors.New("group cap reached")
	// ErrDuplicateSymbolCapReached means risk_limits.duplicate_max open
	// groups already exist for the opportunity's symbol.
	ErrDuplicateSymbolCapReached = errors.New("duplicate symbol cap reached")
	// ErrNoSnapshot means no matching FundingSnapshot could be found for a
	// (venue, symbol) pair; the caller should skip the affected group/leg
	// for this tick rather than fail the whole cycle.
	ErrNoSnapshot = errors.New("no matching snapshot")
	// ErrStaleConfig means the runtime config snapshot has never been
	// populated (neither bootstrap fetch nor a config:updates message has
	// arrived yet).
	ErrStaleConfig = errors.New("runtime config not yet initialised")
)
