package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const caseColumns = `id,description,location,lat,lng,category,photo_url,status,priority,
reporter_id,reporter_name,contact_email,contact_phone,assignee_id,assignee_name,
payment_amount,completion_photo_url,completion_notes,closing_notes,denial_reason,
created_at,updated_at`

type caseScanner interface {
	Scan(dest ...any) error
}

func scanCase(row caseScanner) (domain.Case, error) {
	var c domain.Case
	var lat, lng, payment sql.NullFloat64
	var category, reporterID, reporterName, contactEmail, contactPhone sql.NullString
	var assigneeID, assigneeName, completionPhoto, completionNotes, closingNotes, denialReason sql.NullString
	err := row.Scan(&c.ID, &c.Description, &c.Location, &lat, &lng, &category, &c.PhotoURL, &c.Status, &c.Priority,
		&reporterID, &reporterName, &contactEmail, &contactPhone, &assigneeID, &assigneeName,
		&payment, &completionPhoto, &completionNotes, &closingNotes, &denialReason,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if lat.Valid {
		c.Lat = &lat.Float64
	}
	if lng.Valid {
		c.Lng = &lng.Float64
	}
	if category.Valid {
		c.Category = category.String
	}
	if reporterID.Valid {
		c.ReporterID = &reporterID.String
	}
	if reporterName.Valid {
		c.ReporterName = reporterName.String
	}
	if contactEmail.Valid {
		c.ContactEmail = contactEmail.String
	}
	if contactPhone.Valid {
		c.ContactPhone = contactPhone.String
	}
	if assigneeID.Valid {
		c.AssigneeID = &assigneeID.String
	}
	if assigneeName.Valid {
		c.AssigneeName = assigneeName.String
	}
	if payment.Valid {
		c.PaymentAmount = &payment.Float64
	}
	if completionPhoto.Valid {
		c.CompletionPhotoURL = completionPhoto.String
	}
	if completionNotes.Valid {
		c.CompletionNotes = completionNotes.String
	}
	if closingNotes.Valid {
		c.ClosingNotes = closingNotes.String
	}
	if denialReason.Valid {
		c.DenialReason = denialReason.String
	}
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Description, c.Location, nullableFloatPtr(c.Lat), nullableFloatPtr(c.Lng), nullable(c.Category),
		c.PhotoURL, c.Status, c.Priority,
		nullableStringPtr(c.ReporterID), nullable(c.ReporterName), nullable(c.ContactEmail), nullable(c.ContactPhone),
		nullableStringPtr(c.AssigneeID), nullable(c.AssigneeName),
		nullableFloatPtr(c.PaymentAmount), nullable(c.CompletionPhotoURL), nullable(c.CompletionNotes),
		nullable(c.ClosingNotes), nullable(c.DenialReason),
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET status=?, priority=?, assignee_id=?, assignee_name=?,
payment_amount=?, completion_photo_url=?, completion_notes=?, closing_notes=?, denial_reason=?, updated_at=?
WHERE id=?`,
		c.Status, c.Priority, nullableStringPtr(c.AssigneeID), nullable(c.AssigneeName),
		nullableFloatPtr(c.PaymentAmount), nullable(c.CompletionPhotoURL), nullable(c.CompletionNotes),
		nullable(c.ClosingNotes), nullable(c.DenialReason), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	c.History, err = r.ListHistory(ctx, c.ID)
	return c, err
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

type CaseFilters struct {
	Status          string
	Priority        string
	ReporterID      string
	AssigneeID      string
	Query           string
	ExcludeTerminal bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.ReporterID != "" {
		clauses = append(clauses, "reporter_id=?")
		args = append(args, f.ReporterID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ExcludeTerminal {
		clauses = append(clauses, "status NOT IN ('closed','denied')")
	}
	if f.Query != "" {
		// Case-insensitive substring match over description, location and id.
		clauses = append(clauses, "(instr(lower(description),?)>0 OR instr(lower(location),?)>0 OR instr(lower(id),?)>0)")
		q := strings.ToLower(f.Query)
		args = append(args, q, q, q)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountCasesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) AppendHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_history(case_id,ts,action,performed_by,detail) VALUES (?,?,?,?,?)`,
		h.CaseID, h.TS, h.Action, h.PerformedBy, nullable(h.Detail))
	return err
}

func (r Repo) ListHistory(ctx context.Context, caseID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,ts,action,performed_by,COALESCE(detail,'') FROM case_history WHERE case_id=? ORDER BY id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.CaseID, &h.TS, &h.Action, &h.PerformedBy, &h.Detail); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) CountHistory(ctx context.Context, caseID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM case_history WHERE case_id=?`, caseID).Scan(&n)
	return n, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
