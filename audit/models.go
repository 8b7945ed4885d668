package audit

import "time"

// Event records one state-changing operation. Snapshots carry status only,
// never profile data, so the audit trail stays free of PII.
type Event struct {
	ActorID      string
	ActorRole    string
	Action       string
	ResourceType string
	ResourceID   string
	StatusBefore string
	StatusAfter  string
	OccurredAt   time.Time
}
