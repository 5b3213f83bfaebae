package domain

import "strings"

// Reference derives the short citizen-facing reference number from a case ID.
// It is presentation only; lookups always use the full ID.
func Reference(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return "REF-" + strings.ToUpper(short)
}

type Case struct {
	ID                 string         `json:"id"`
	Description        string         `json:"description"`
	Location           string         `json:"location"`
	Lat                *float64       `json:"lat,omitempty"`
	Lng                *float64       `json:"lng,omitempty"`
	Category           string         `json:"category,omitempty"`
	PhotoURL           string         `json:"photo_url"`
	Status             string         `json:"status" enum:"pending,approved,assigned,in_progress,completed,closed,denied"`
	Priority           string         `json:"priority" enum:"normal,high"`
	ReporterID         *string        `json:"reporter_id,omitempty"`
	ReporterName       string         `json:"reporter_name,omitempty"`
	ContactEmail       string         `json:"contact_email,omitempty"`
	ContactPhone       string         `json:"contact_phone,omitempty"`
	AssigneeID         *string        `json:"assignee_id,omitempty"`
	AssigneeName       string         `json:"assignee_name,omitempty"`
	PaymentAmount      *float64       `json:"payment_amount,omitempty"`
	CompletionPhotoURL string         `json:"completion_photo_url,omitempty"`
	CompletionNotes    string         `json:"completion_notes,omitempty"`
	ClosingNotes       string         `json:"closing_notes,omitempty"`
	DenialReason       string         `json:"denial_reason,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
	History            []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one immutable audit record owned by exactly one case.
type HistoryEntry struct {
	ID          int64  `json:"id"`
	CaseID      string `json:"case_id"`
	TS          string `json:"ts" format:"date-time"`
	Action      string `json:"action"`
	PerformedBy string `json:"performed_by"`
	Detail      string `json:"detail,omitempty"`
}

type Contractor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Active    bool     `json:"active"`
	TrustTier *int     `json:"trust_tier,omitempty"`
	Verified  bool     `json:"verified"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string  `json:"id"`
	Role         string  `json:"role" enum:"civilian,contractor,official"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	ContractorID *string `json:"contractor_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
