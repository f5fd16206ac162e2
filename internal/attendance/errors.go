package attendance

import "errors"

// Business outcomes of a mark attempt. None of these are retried; each maps to
// an actionable message for the caller.
var (
	// ErrTooSoonToCheckOut rejects a scan inside the cooldown window after
	// check-in. The record is left untouched.
	ErrTooSoonToCheckOut = errors.New("checked in too recently to check out")

	// ErrAlreadyComplete rejects any mark once check-out is set; the day's
	// record is terminal.
	ErrAlreadyComplete = errors.New("attendance already complete for today")

	// ErrLivenessFailed rejects a matched scan whose probe failed the liveness
	// check while liveness is required.
	ErrLivenessFailed = errors.New("liveness check failed")

	// ErrTooManyAttempts rejects a scan after the per-day attempt budget is
	// spent.
	ErrTooManyAttempts = errors.New("too many scan attempts today")
)
