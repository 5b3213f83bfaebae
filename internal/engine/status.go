package engine

// Canonical case statuses.
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusClosed     = "closed"
	StatusDenied     = "denied"
)

// Priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(status string) bool {
	return status == StatusClosed || status == StatusDenied
}

// ValidStatus reports whether s is a canonical status value.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusAssigned, StatusInProgress, StatusCompleted, StatusClosed, StatusDenied:
		return true
	}
	return false
}

// ensureTransition validates a state-machine edge. Actions that leave the
// status unchanged (escalate, update_payment) do not go through here.
func ensureTransition(from, to string) error {
	switch from {
	case StatusPending:
		if to == StatusApproved || to == StatusDenied {
			return nil
		}
	case StatusApproved:
		if to == StatusAssigned {
			return nil
		}
	case StatusAssigned:
		// assigned -> assigned covers reassignment.
		if to == StatusAssigned || to == StatusInProgress {
			return nil
		}
	case StatusInProgress:
		if to == StatusCompleted {
			return nil
		}
	case StatusCompleted:
		if to == StatusClosed {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// Extended-variant status names used by the CivicGrid client shape. The
// canonical machine is the primary seven-state one; this table only
// translates at the edge for clients speaking the extended vocabulary.
var extendedByCanonical = map[string]string{
	StatusPending:    "created",
	StatusApproved:   "routed",
	StatusAssigned:   "accepted",
	StatusInProgress: "in_progress",
	StatusCompleted:  "verification",
	StatusClosed:     "resolved",
	StatusDenied:     "disputed",
}

var canonicalByExtended = map[string]string{
	"created":      StatusPending,
	"routed":       StatusApproved,
	"accepted":     StatusAssigned,
	"in_progress":  StatusInProgress,
	"verification": StatusCompleted,
	"resolved":     StatusClosed,
	"paid":         StatusClosed,
	"disputed":     StatusDenied,
}

// ExtendedStatus maps a canonical status to the extended-variant name.
func ExtendedStatus(canonical string) (string, bool) {
	s, ok := extendedByCanonical[canonical]
	return s, ok
}

// CanonicalStatus maps an extended-variant name to the canonical status.
func CanonicalStatus(extended string) (string, bool) {
	s, ok := canonicalByExtended[extended]
	return s, ok
}
