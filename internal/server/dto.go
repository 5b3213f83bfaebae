package server

import (
	"github.com/nnicholas-c/CivicGrid/internal/domain"
)

// Request payloads

type ReportCaseRequest struct {
	Description  string   `json:"description"`
	Location     string   `json:"location"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	Category     string   `json:"category,omitempty" enum:"roads,lighting,sanitation,water,parks,other"`
	PhotoURL     string   `json:"photo_url"`
	ContactEmail string   `json:"contact_email,omitempty" format:"email"`
	ContactPhone string   `json:"contact_phone,omitempty"`
}

type DenyCaseRequest struct {
	Reason string `json:"reason"`
}

type AssignCaseRequest struct {
	ContractorID string `json:"contractor_id"`
}

type CompleteCaseRequest struct {
	PhotoURL string `json:"photo_url,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type CloseCaseRequest struct {
	ClosingNotes string `json:"closing_notes"`
}

type UpdatePaymentRequest struct {
	Amount float64 `json:"amount" minimum:"0"`
}

type CreateContractorRequest struct {
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty" format:"email"`
	Phone  string   `json:"phone,omitempty"`
	Skills []string `json:"skills,omitempty"`
}

type SignupRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role" enum:"civilian,contractor,official"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

// Response payloads

type HistoryEntryResponse struct {
	TS          string `json:"ts" format:"date-time"`
	Action      string `json:"action"`
	PerformedBy string `json:"performed_by"`
	Detail      string `json:"detail,omitempty"`
}

type CaseResponse struct {
	ID                 string                 `json:"id"`
	Reference          string                 `json:"reference"`
	Description        string                 `json:"description"`
	Location           string                 `json:"location"`
	Lat                *float64               `json:"lat,omitempty"`
	Lng                *float64               `json:"lng,omitempty"`
	Category           string                 `json:"category,omitempty"`
	PhotoURL           string                 `json:"photo_url"`
	Status             string                 `json:"status" enum:"pending,approved,assigned,in_progress,completed,closed,denied"`
	Priority           string                 `json:"priority" enum:"normal,high"`
	ReporterID         *string                `json:"reporter_id,omitempty"`
	ReporterName       string                 `json:"reporter_name,omitempty"`
	ContactEmail       string                 `json:"contact_email,omitempty"`
	ContactPhone       string                 `json:"contact_phone,omitempty"`
	AssigneeID         *string                `json:"assignee_id,omitempty"`
	AssigneeName       string                 `json:"assignee_name,omitempty"`
	PaymentAmount      *float64               `json:"payment_amount,omitempty"`
	CompletionPhotoURL string                 `json:"completion_photo_url,omitempty"`
	CompletionNotes    string                 `json:"completion_notes,omitempty"`
	ClosingNotes       string                 `json:"closing_notes,omitempty"`
	DenialReason       string                 `json:"denial_reason,omitempty"`
	CreatedAt          string                 `json:"created_at" format:"date-time"`
	UpdatedAt          string                 `json:"updated_at" format:"date-time"`
	History            []HistoryEntryResponse `json:"history"`
}

type ContractorResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Skills    []string `json:"skills"`
	Active    bool     `json:"active"`
	TrustTier *int     `json:"trust_tier,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Role         string  `json:"role" enum:"civilian,contractor,official"`
	ContractorID *string `json:"contractor_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PhotoResponse struct {
	PhotoURL string `json:"photo_url"`
}

type StatusCountsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func historyResponse(entries []domain.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(entries))
	for _, h := range entries {
		res = append(res, HistoryEntryResponse{
			TS:          h.TS,
			Action:      h.Action,
			PerformedBy: h.PerformedBy,
			Detail:      h.Detail,
		})
	}
	return res
}

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:                 c.ID,
		Reference:          domain.Reference(c.ID),
		Description:        c.Description,
		Location:           c.Location,
		Lat:                c.Lat,
		Lng:                c.Lng,
		Category:           c.Category,
		PhotoURL:           c.PhotoURL,
		Status:             c.Status,
		Priority:           c.Priority,
		ReporterID:         c.ReporterID,
		ReporterName:       c.ReporterName,
		ContactEmail:       c.ContactEmail,
		ContactPhone:       c.ContactPhone,
		AssigneeID:         c.AssigneeID,
		AssigneeName:       c.AssigneeName,
		PaymentAmount:      c.PaymentAmount,
		CompletionPhotoURL: c.CompletionPhotoURL,
		CompletionNotes:    c.CompletionNotes,
		ClosingNotes:       c.ClosingNotes,
		DenialReason:       c.DenialReason,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		History:            historyResponse(c.History),
	}
}

func contractorResponse(c domain.Contractor) ContractorResponse {
	return ContractorResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Skills:    nonNilSlice(c.Skills),
		Active:    c.Active,
		TrustTier: c.TrustTier,
		CreatedAt: c.CreatedAt,
	}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		ContractorID: u.ContractorID,
		CreatedAt:    u.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapCases(items []domain.Case) []CaseResponse {
	res := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		res = append(res, caseResponse(c))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
