package core

import "errors"

// Error kinds surfaced across the runtime. Callers should use errors.Is
// against these sentinels rather than matching on message text.
var (
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrPolicyDenied       = errors.New("policy denied")
	ErrInsufficientMana   = errors.New("insufficient mana")
	ErrInsufficientToken  = errors.New("insufficient token balance")
	ErrNotFound           = errors.New("not found")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrTimeout            = errors.New("timeout")
	ErrNoBids             = errors.New("no bids")
	ErrNoSuitableExecutor = errors.New("no suitable executor")
	ErrStorageError       = errors.New("storage error")
	ErrNetworkError       = errors.New("network error")
	ErrCongested          = errors.New("congested")
	ErrInternal           = errors.New("internal invariant violation")
)
