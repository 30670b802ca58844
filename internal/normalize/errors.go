package normalize

import "errors"

var (
	// ErrMalformedRecord is returned for raw records missing required fields
	// or carrying unparseable values. Per-record: the caller decides between
	// skip-and-count and abort via MalformedPolicy.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrClockSkew is returned when a timestamp regresses beyond the
	// configured tolerance within one source stream. Stream-level: large
	// regressions abort the run instead of being silently reordered.
	ErrClockSkew = errors.New("timestamp regression beyond tolerance")

	// ErrInvalidOrdering is returned when events are not in deterministic order.
	ErrInvalidOrdering = errors.New("events are not in deterministic order")
)
