package model

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap one of these and are classified with errors.Is.
var (
	// ErrConfig marks an invalid or missing pair definition. Fatal for the whole run.
	ErrConfig = errors.New("config error")

	// ErrRateLimited marks an upstream rate-limit response. Retried after backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientFetch marks a network or server failure while fetching. Retried.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrTransientWrite marks a storage failure that may succeed on retry.
	ErrTransientWrite = errors.New("transient write error")

	// ErrPermanentFetch marks an upstream rejection that will not change on retry
	// (e.g., unknown symbol). The pair fails; other pairs continue.
	ErrPermanentFetch = errors.New("permanent fetch error")

	// ErrInvalidCandle marks an upstream row that is inconsistent or does not fit the
	// storage precision. It is a permanent fetch error: the pair fails visibly rather
	// than skipping the row.
	ErrInvalidCandle = fmt.Errorf("%w: invalid candle", ErrPermanentFetch)

	// ErrIntegrityViolation marks an attempted overwrite of an already-closed candle.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrRetriesExhausted is returned once a recoverable error outlives its retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)
