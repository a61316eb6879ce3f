package apperrors

import "errors"

// Strategy errors
var (
	ErrNotReady            = errors.New("indicators not ready")
	ErrInstrumentNotLoaded = errors.New("instrument not loaded")
	ErrInsufficientEquity  = errors.New("insufficient equity")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidSignal       = errors.New("invalid signal")
	ErrNotFlat             = errors.New("position or entry already working")
)

// Venue and routing errors
var (
	ErrOrderRejected           = errors.New("order rejected")
	ErrUnknownOrder            = errors.New("unknown order")
	ErrDuplicateOrder          = errors.New("duplicate order")
	ErrExchangeRateUnavailable = errors.New("exchange rate unavailable")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrInboxFull               = errors.New("engine inbox full")
	ErrUnknownInstrument       = errors.New("unknown instrument")
	ErrNetwork                 = errors.New("network error")
)
