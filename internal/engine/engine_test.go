package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nnicholas-c/CivicGrid/internal/config"
	"github.com/nnicholas-c/CivicGrid/internal/db"
	"github.com/nnicholas-c/CivicGrid/internal/domain"
	"github.com/nnicholas-c/CivicGrid/internal/engine"
	"github.com/nnicholas-c/CivicGrid/internal/engine/auth"
	"github.com/nnicholas-c/CivicGrid/internal/migrate"
	"github.com/nnicholas-c/CivicGrid/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

var (
	official = auth.Actor{ID: "off-1", Name: "Sarah Chen", Role: auth.RoleOfficial}
	civilian = auth.Actor{ID: "civ-1", Name: "David Kim", Role: auth.RoleCivilian}
)

func (env testEnv) addContractor(t *testing.T, name string, active bool) domain.Contractor {
	t.Helper()
	c := domain.Contractor{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     name + "@contractors.example.org",
		Active:    active,
		CreatedAt: env.Engine.Now().UTC().Format(time.RFC3339),
	}
	if err := env.Engine.Repo.InsertContractor(env.Ctx, c); err != nil {
		t.Fatalf("insert contractor: %v", err)
	}
	return c
}

func (env testEnv) report(t *testing.T, act auth.Actor) domain.Case {
	t.Helper()
	c, err := env.Engine.Report(env.Ctx, engine.ReportOptions{
		Description: "Pothole on Main St",
		Location:    "Main St & 5th Ave",
		Category:    "roads",
		PhotoURL:    "/photos/pothole.jpg",
		Actor:       act,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	return c
}

func (env testEnv) historyCount(t *testing.T, caseID string) int {
	t.Helper()
	hist, err := env.Engine.Repo.ListHistory(env.Ctx, caseID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return len(hist)
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	contractor := env.addContractor(t, "John Smith", true)
	worker := auth.Actor{ID: contractor.ID, Name: contractor.Name, Role: auth.RoleContractor}

	c := env.report(t, civilian)
	if c.Status != engine.StatusPending {
		t.Fatalf("expected pending after report, got %s", c.Status)
	}
	if c.ReporterID == nil || *c.ReporterID != civilian.ID {
		t.Fatalf("expected reporter id %s, got %v", civilian.ID, c.ReporterID)
	}

	if c, _ = env.Engine.Approve(env.Ctx, official, c.ID); c.Status != engine.StatusApproved {
		t.Fatalf("expected approved, got %s", c.Status)
	}
	c, err := env.Engine.Assign(env.Ctx, official, c.ID, contractor.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c.Status != engine.StatusAssigned || c.AssigneeID == nil || *c.AssigneeID != contractor.ID {
		t.Fatalf("unexpected case after assign: %+v", c)
	}
	if c.AssigneeName != contractor.Name {
		t.Fatalf("expected assignee name %s, got %s", contractor.Name, c.AssigneeName)
	}

	if c, err = env.Engine.StartWork(env.Ctx, worker, c.ID); err != nil || c.Status != engine.StatusInProgress {
		t.Fatalf("start work: %v status %s", err, c.Status)
	}
	c, err = env.Engine.SubmitCompletion(env.Ctx, worker, c.ID, "/photos/fixed.jpg", "Patched and sealed")
	if err != nil || c.Status != engine.StatusCompleted {
		t.Fatalf("submit completion: %v status %s", err, c.Status)
	}
	if c.CompletionPhotoURL != "/photos/fixed.jpg" || c.CompletionNotes != "Patched and sealed" {
		t.Fatalf("completion evidence not recorded: %+v", c)
	}

	if _, err := env.Engine.Close(env.Ctx, official, c.ID, ""); err == nil {
		t.Fatalf("expected close without notes to fail")
	}
	c, err = env.Engine.Close(env.Ctx, official, c.ID, "Verified on site")
	if err != nil || c.Status != engine.StatusClosed {
		t.Fatalf("close: %v status %s", err, c.Status)
	}

	// Closed is terminal.
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("expected invalid transition on closed case, got %v", err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, worker, c.ID); err == nil {
		t.Fatalf("expected start work on closed case to fail")
	}

	wantActions := []string{"Reported", "Approved", "Assigned", "In Progress", "Completed", "Closed"}
	hist, err := env.Engine.Repo.ListHistory(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(hist) != len(wantActions) {
		t.Fatalf("expected %d history entries, got %d", len(wantActions), len(hist))
	}
	for i, want := range wantActions {
		if hist[i].Action != want {
			t.Fatalf("history[%d]: expected %s, got %s", i, want, hist[i].Action)
		}
	}
	if hist[2].Detail != "Assigned to "+contractor.Name {
		t.Fatalf("unexpected assign detail: %s", hist[2].Detail)
	}
}

func TestAnonymousReport(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Report(env.Ctx, engine.ReportOptions{
		Description:  "Streetlight out",
		Location:     "Oak Ave near the park",
		PhotoURL:     "/photos/light.jpg",
		ContactEmail: "tips@example.org",
		Actor:        auth.Anonymous(),
	})
	if err != nil {
		t.Fatalf("anonymous report: %v", err)
	}
	if c.ReporterID != nil {
		t.Fatalf("anonymous report must not carry a reporter id")
	}
	if c.ReporterName != "tips@example.org" {
		t.Fatalf("expected contact email as reporter name, got %s", c.ReporterName)
	}
}

func TestReportRequiresEvidence(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Report(env.Ctx, engine.ReportOptions{
		Description: "Trash overflow",
		Location:    "2nd and Pine",
		Actor:       civilian,
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "photo_url" {
		t.Fatalf("expected photo_url validation error, got %v", err)
	}
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)
	c := env.report(t, civilian)

	if _, err := env.Engine.Approve(env.Ctx, civilian, c.ID); !errors.As(err, &auth.DeniedError{}) {
		t.Fatalf("expected denied error for civilian approve, got %v", err)
	}
	if _, err := env.Engine.Report(env.Ctx, engine.ReportOptions{
		Description: "x", Location: "y", PhotoURL: "z",
		Actor: auth.Actor{ID: "off-1", Role: auth.RoleOfficial},
	}); !errors.As(err, &auth.DeniedError{}) {
		t.Fatalf("expected denied error for official report, got %v", err)
	}
	// A rejected action appends nothing.
	if n := env.historyCount(t, c.ID); n != 1 {
		t.Fatalf("expected 1 history entry after rejected approve, got %d", n)
	}
}

func TestOnlyAssigneeMayWork(t *testing.T) {
	env := newTestEnv(t)
	assigned := env.addContractor(t, "John Smith", true)
	other := env.addContractor(t, "Maria Garcia", true)

	c := env.report(t, civilian)
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, official, c.ID, assigned.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	intruder := auth.Actor{ID: other.ID, Name: other.Name, Role: auth.RoleContractor}
	_, err := env.Engine.StartWork(env.Ctx, intruder, c.ID)
	var nae auth.NotAssigneeError
	if !errors.As(err, &nae) || nae.CaseID != c.ID {
		t.Fatalf("expected not-assignee error, got %v", err)
	}
	if n := env.historyCount(t, c.ID); n != 3 {
		t.Fatalf("expected history untouched after rejected start, got %d entries", n)
	}
}

func TestReassign(t *testing.T) {
	env := newTestEnv(t)
	first := env.addContractor(t, "John Smith", true)
	second := env.addContractor(t, "Maria Garcia", true)

	c := env.report(t, civilian)
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, official, c.ID, first.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	c, err := env.Engine.Assign(env.Ctx, official, c.ID, second.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if c.Status != engine.StatusAssigned || *c.AssigneeID != second.ID {
		t.Fatalf("unexpected case after reassign: %+v", c)
	}
	hist, _ := env.Engine.Repo.ListHistory(env.Ctx, c.ID)
	if hist[len(hist)-1].Action != "Reassigned" {
		t.Fatalf("expected Reassigned entry, got %s", hist[len(hist)-1].Action)
	}
}

func TestAssignRejectsInactiveContractor(t *testing.T) {
	env := newTestEnv(t)
	inactive := env.addContractor(t, "Retired", false)

	c := env.report(t, civilian)
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := env.Engine.Assign(env.Ctx, official, c.ID, inactive.ID)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "contractor_id" {
		t.Fatalf("expected contractor_id validation error, got %v", err)
	}
	_, err = env.Engine.Assign(env.Ctx, official, c.ID, "no-such-contractor")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown contractor, got %v", err)
	}
}

func TestDenyRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.report(t, civilian)

	if _, err := env.Engine.Deny(env.Ctx, official, c.ID, "  "); err == nil {
		t.Fatalf("expected deny without reason to fail")
	}
	c, err := env.Engine.Deny(env.Ctx, official, c.ID, "Duplicate of an existing case")
	if err != nil || c.Status != engine.StatusDenied {
		t.Fatalf("deny: %v status %s", err, c.Status)
	}
	if c.DenialReason != "Duplicate of an existing case" {
		t.Fatalf("denial reason not recorded: %q", c.DenialReason)
	}
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); err == nil {
		t.Fatalf("expected approve on denied case to fail")
	}
}

func TestEscalate(t *testing.T) {
	env := newTestEnv(t)
	contractor := env.addContractor(t, "John Smith", true)
	c := env.report(t, civilian)

	if _, err := env.Engine.Escalate(env.Ctx, official, c.ID); !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("expected escalate on pending to fail, got %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, official, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, official, c.ID, contractor.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	c, err := env.Engine.Escalate(env.Ctx, official, c.ID)
	if err != nil || c.Priority != engine.PriorityHigh {
		t.Fatalf("escalate: %v priority %s", err, c.Priority)
	}
	before := env.historyCount(t, c.ID)
	// Escalating again keeps high priority and still records the attempt.
	c, err = env.Engine.Escalate(env.Ctx, official, c.ID)
	if err != nil || c.Priority != engine.PriorityHigh {
		t.Fatalf("repeat escalate: %v priority %s", err, c.Priority)
	}
	if n := env.historyCount(t, c.ID); n != before+1 {
		t.Fatalf("expected repeat escalate to append history, got %d then %d", before, n)
	}
}

func TestUpdatePayment(t *testing.T) {
	env := newTestEnv(t)
	contractor := env.addContractor(t, "John Smith", true)
	worker := auth.Actor{ID: contractor.ID, Name: contractor.Name, Role: auth.RoleContractor}
	c := env.report(t, civilian)

	if _, err := env.Engine.UpdatePayment(env.Ctx, official, c.ID, 100); err == nil {
		t.Fatalf("expected payment on pending case to fail")
	}
	if _, err := env.Engine.UpdatePayment(env.Ctx, official, c.ID, -1); err == nil {
		t.Fatalf("expected negative payment to fail")
	}

	env.Engine.Approve(env.Ctx, official, c.ID)
	env.Engine.Assign(env.Ctx, official, c.ID, contractor.ID)
	c, err := env.Engine.UpdatePayment(env.Ctx, official, c.ID, 150)
	if err != nil || c.PaymentAmount == nil || *c.PaymentAmount != 150 {
		t.Fatalf("update payment: %v amount %v", err, c.PaymentAmount)
	}
	c, err = env.Engine.UpdatePayment(env.Ctx, official, c.ID, 225.50)
	if err != nil || *c.PaymentAmount != 225.50 {
		t.Fatalf("repeat update payment: %v amount %v", err, c.PaymentAmount)
	}
	hist, _ := env.Engine.Repo.ListHistory(env.Ctx, c.ID)
	last := hist[len(hist)-1]
	if last.Action != "Payment Updated" || last.Detail != "Changed from $150.00 to $225.50" {
		t.Fatalf("unexpected payment history entry: %+v", last)
	}

	env.Engine.StartWork(env.Ctx, worker, c.ID)
	env.Engine.SubmitCompletion(env.Ctx, worker, c.ID, "", "")
	if _, err := env.Engine.UpdatePayment(env.Ctx, official, c.ID, 300); err != nil {
		t.Fatalf("payment on completed case: %v", err)
	}
	env.Engine.Close(env.Ctx, official, c.ID, "done")
	if _, err := env.Engine.UpdatePayment(env.Ctx, official, c.ID, 400); err == nil {
		t.Fatalf("expected payment on closed case to fail")
	}
}

func TestEventAppendOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	contractor := env.addContractor(t, "John Smith", true)
	c := env.report(t, civilian)
	env.Engine.Approve(env.Ctx, official, c.ID)
	env.Engine.Assign(env.Ctx, official, c.ID, contractor.ID)

	for _, evtType := range []string{"case.reported", "case.approved", "case.assigned"} {
		var count int
		row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type=? AND entity_id=?`, evtType, c.ID)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("count %s events: %v", evtType, err)
		}
		if count != 1 {
			t.Fatalf("expected one %s event, got %d", evtType, count)
		}
	}
	var total int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE entity_id=?`, c.ID)
	if err := row.Scan(&total); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 events for the case, got %d", total)
	}
}
