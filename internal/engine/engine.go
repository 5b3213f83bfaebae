package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nnicholas-c/CivicGrid/internal/config"
	"github.com/nnicholas-c/CivicGrid/internal/domain"
	"github.com/nnicholas-c/CivicGrid/internal/engine/auth"
	"github.com/nnicholas-c/CivicGrid/internal/events"
	"github.com/nnicholas-c/CivicGrid/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ReportOptions are parameters for reporting a new case.
type ReportOptions struct {
	Description  string
	Location     string
	Lat          *float64
	Lng          *float64
	Category     string
	PhotoURL     string
	ContactEmail string
	ContactPhone string
	Actor        auth.Actor
}

// Report creates a case in pending status with its first history entry.
func (e Engine) Report(ctx context.Context, opts ReportOptions) (domain.Case, error) {
	if err := auth.Authorize(opts.Actor, auth.ActionReport, domain.Case{}); err != nil {
		return domain.Case{}, err
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Case{}, ValidationError{Field: "description", Reason: "required"}
	}
	if strings.TrimSpace(opts.Location) == "" {
		return domain.Case{}, ValidationError{Field: "location", Reason: "required"}
	}
	if strings.TrimSpace(opts.PhotoURL) == "" {
		return domain.Case{}, ValidationError{Field: "photo_url", Reason: "photo evidence is required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Case{
		ID:           uuid.New().String(),
		Description:  opts.Description,
		Location:     opts.Location,
		Lat:          opts.Lat,
		Lng:          opts.Lng,
		Category:     opts.Category,
		PhotoURL:     opts.PhotoURL,
		Status:       StatusPending,
		Priority:     PriorityNormal,
		ContactEmail: opts.ContactEmail,
		ContactPhone: opts.ContactPhone,
		ReporterName: reporterName(opts),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !opts.Actor.IsAnonymous() {
		id := opts.Actor.ID
		c.ReporterID = &id
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.Repo.AppendHistory(ctx, tx, domain.HistoryEntry{
		CaseID:      c.ID,
		TS:          now,
		Action:      "Reported",
		PerformedBy: c.ReporterName,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.reported", "case", c.ID, actorID(opts.Actor), events.EventPayload{"status": c.Status}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.History, err = e.Repo.ListHistory(ctx, c.ID)
	return c, err
}

func reporterName(opts ReportOptions) string {
	if !opts.Actor.IsAnonymous() && opts.Actor.Name != "" {
		return opts.Actor.Name
	}
	if opts.ContactEmail != "" {
		return opts.ContactEmail
	}
	return "Anonymous"
}

func actorID(a auth.Actor) string {
	if a.ID != "" {
		return a.ID
	}
	return "anonymous"
}

func performer(a auth.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return actorID(a)
}

// mutation describes the outcome of a single accepted transition.
type mutation struct {
	Action    string
	Detail    string
	EventType string
	Payload   events.EventPayload
}

// apply runs one transition as a single transaction: load, authorize,
// validate and mutate, persist, append exactly one history entry and one
// event, commit. A rejected transition rolls back and appends nothing.
func (e Engine) apply(ctx context.Context, id string, act auth.Actor, action string, mutate func(c *domain.Case) (mutation, error)) (domain.Case, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, id)
	if err != nil {
		return domain.Case{}, err
	}
	if err := auth.Authorize(act, action, c); err != nil {
		return domain.Case{}, err
	}
	m, err := mutate(&c)
	if err != nil {
		return domain.Case{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.UpdatedAt = now
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.AppendHistory(ctx, tx, domain.HistoryEntry{
		CaseID:      c.ID,
		TS:          now,
		Action:      m.Action,
		PerformedBy: performer(act),
		Detail:      m.Detail,
	}); err != nil {
		return domain.Case{}, err
	}
	if m.Payload == nil {
		m.Payload = events.EventPayload{}
	}
	m.Payload["status"] = c.Status
	if err := e.Events.Append(ctx, tx, m.EventType, "case", c.ID, actorID(act), m.Payload); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.History, err = e.Repo.ListHistory(ctx, c.ID)
	return c, err
}

// Approve moves a pending case to approved.
func (e Engine) Approve(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
	return e.apply(ctx, id, act, auth.ActionApprove, func(c *domain.Case) (mutation, error) {
		if err := ensureTransition(c.Status, StatusApproved); err != nil {
			return mutation{}, err
		}
		c.Status = StatusApproved
		return mutation{Action: "Approved", EventType: "case.approved"}, nil
	})
}

// Deny moves a pending case to the denied terminal status. A non-empty
// reason is required.
func (e Engine) Deny(ctx context.Context, act auth.Actor, id, reason string) (domain.Case, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Case{}, ValidationError{Field: "reason", Reason: "denial reason is required"}
	}
	return e.apply(ctx, id, act, auth.ActionDeny, func(c *domain.Case) (mutation, error) {
		if err := ensureTransition(c.Status, StatusDenied); err != nil {
			return mutation{}, err
		}
		c.Status = StatusDenied
		c.DenialReason = reason
		return mutation{Action: "Denied", Detail: reason, EventType: "case.denied"}, nil
	})
}

// Assign puts an approved case in the hands of a contractor; on an already
// assigned case it overwrites the assignee without returning to approved.
func (e Engine) Assign(ctx context.Context, act auth.Actor, id, contractorID string) (domain.Case, error) {
	if strings.TrimSpace(contractorID) == "" {
		return domain.Case{}, ValidationError{Field: "contractor_id", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, id)
	if err != nil {
		return domain.Case{}, err
	}
	action := auth.ActionAssign
	label := "Assigned"
	if c.Status == StatusAssigned {
		action = auth.ActionReassign
		label = "Reassigned"
	}
	if err := auth.Authorize(act, action, c); err != nil {
		return domain.Case{}, err
	}
	if err := ensureTransition(c.Status, StatusAssigned); err != nil {
		return domain.Case{}, err
	}
	contractor, err := e.Repo.GetContractorTx(ctx, tx, contractorID)
	if err != nil {
		return domain.Case{}, err
	}
	if !contractor.Active {
		return domain.Case{}, ValidationError{Field: "contractor_id", Reason: "contractor is not active"}
	}
	c.Status = StatusAssigned
	c.AssigneeID = &contractor.ID
	c.AssigneeName = contractor.Name
	now := e.now().UTC().Format(time.RFC3339)
	c.UpdatedAt = now
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.AppendHistory(ctx, tx, domain.HistoryEntry{
		CaseID:      c.ID,
		TS:          now,
		Action:      label,
		PerformedBy: performer(act),
		Detail:      "Assigned to " + contractor.Name,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.assigned", "case", c.ID, actorID(act), events.EventPayload{
		"status":      c.Status,
		"assignee_id": contractor.ID,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.History, err = e.Repo.ListHistory(ctx, c.ID)
	return c, err
}

// StartWork moves an assigned case to in_progress. Only the assigned
// contractor may call it.
func (e Engine) StartWork(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
	return e.apply(ctx, id, act, auth.ActionStartWork, func(c *domain.Case) (mutation, error) {
		if err := ensureTransition(c.Status, StatusInProgress); err != nil {
			return mutation{}, err
		}
		c.Status = StatusInProgress
		return mutation{Action: "In Progress", EventType: "case.started"}, nil
	})
}

// SubmitCompletion moves an in_progress case to completed; completion photo
// and notes are optional evidence.
func (e Engine) SubmitCompletion(ctx context.Context, act auth.Actor, id, photoURL, notes string) (domain.Case, error) {
	return e.apply(ctx, id, act, auth.ActionSubmitCompletion, func(c *domain.Case) (mutation, error) {
		if err := ensureTransition(c.Status, StatusCompleted); err != nil {
			return mutation{}, err
		}
		c.Status = StatusCompleted
		if photoURL != "" {
			c.CompletionPhotoURL = photoURL
		}
		if notes != "" {
			c.CompletionNotes = notes
		}
		return mutation{Action: "Completed", Detail: notes, EventType: "case.completed"}, nil
	})
}

// Close moves a completed case to the closed terminal status. Non-empty
// closing notes are required; payment becomes immutable afterwards.
func (e Engine) Close(ctx context.Context, act auth.Actor, id, closingNotes string) (domain.Case, error) {
	if strings.TrimSpace(closingNotes) == "" {
		return domain.Case{}, ValidationError{Field: "closing_notes", Reason: "closing notes are required"}
	}
	return e.apply(ctx, id, act, auth.ActionClose, func(c *domain.Case) (mutation, error) {
		if err := ensureTransition(c.Status, StatusClosed); err != nil {
			return mutation{}, err
		}
		c.Status = StatusClosed
		c.ClosingNotes = closingNotes
		return mutation{Action: "Closed", Detail: closingNotes, EventType: "case.closed"}, nil
	})
}

// Escalate raises priority to high on any non-terminal case past pending.
// Escalating an already-high case is a no-op that still appends a history
// entry.
func (e Engine) Escalate(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
	return e.apply(ctx, id, act, auth.ActionEscalate, func(c *domain.Case) (mutation, error) {
		if IsTerminal(c.Status) || c.Status == StatusPending {
			return mutation{}, InvalidTransitionError{From: c.Status, To: c.Status}
		}
		c.Priority = PriorityHigh
		return mutation{Action: "Escalated", Detail: "Marked as high priority", EventType: "case.escalated"}, nil
	})
}

// UpdatePayment sets the payment amount on a case with an assignment. It may
// be called repeatedly until the case is closed.
func (e Engine) UpdatePayment(ctx context.Context, act auth.Actor, id string, amount float64) (domain.Case, error) {
	if amount < 0 {
		return domain.Case{}, ValidationError{Field: "payment_amount", Reason: "must not be negative"}
	}
	return e.apply(ctx, id, act, auth.ActionUpdatePayment, func(c *domain.Case) (mutation, error) {
		switch c.Status {
		case StatusAssigned, StatusInProgress, StatusCompleted:
		default:
			return mutation{}, InvalidTransitionError{From: c.Status, To: c.Status}
		}
		old := 0.0
		if c.PaymentAmount != nil {
			old = *c.PaymentAmount
		}
		c.PaymentAmount = &amount
		detail := fmt.Sprintf("Changed from $%.2f to $%.2f", old, amount)
		return mutation{
			Action:    "Payment Updated",
			Detail:    detail,
			EventType: "case.payment_updated",
			Payload:   events.EventPayload{"amount": amount},
		}, nil
	})
}
