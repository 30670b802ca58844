package domain

// CaptureSession represents one live capture run against a venue feed.
// Corresponds to capture_sessions table in PostgreSQL.
type CaptureSession struct {
	SessionID   string   // UUID assigned at session start
	Venue       string   // feed identifier, e.g. "binance-futures"
	Instruments []string // instruments subscribed in this session
	StartedAt   int64    // session start timestamp (ns)
	EndedAt     *int64   // session end timestamp (ns), NULL while running
	EventCount  int64    // raw events archived during the session
}
