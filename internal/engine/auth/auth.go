package auth

import (
	"fmt"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
)

// Roles. Anonymous is a synthetic role for unauthenticated callers.
const (
	RoleCivilian   = "civilian"
	RoleContractor = "contractor"
	RoleOfficial   = "official"
	RoleAnonymous  = "anonymous"
)

// Actions over a case.
const (
	ActionReport           = "report"
	ActionApprove          = "approve"
	ActionDeny             = "deny"
	ActionAssign           = "assign"
	ActionReassign         = "reassign"
	ActionStartWork        = "start_work"
	ActionSubmitCompletion = "submit_completion"
	ActionClose            = "close"
	ActionEscalate         = "escalate"
	ActionUpdatePayment    = "update_payment"
	ActionReadAll          = "read_all"
)

// Actor is the authenticated identity issuing a request.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Anonymous returns the unauthenticated actor.
func Anonymous() Actor {
	return Actor{Role: RoleAnonymous}
}

func (a Actor) IsAnonymous() bool {
	return a.Role == RoleAnonymous || a.Role == ""
}

// DeniedError indicates the actor's role does not permit the action.
type DeniedError struct {
	Role   string
	Action string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// NotAssigneeError indicates a contractor acting on a case assigned to someone else.
type NotAssigneeError struct {
	CaseID string
}

func (e NotAssigneeError) Error() string {
	return fmt.Sprintf("case %s is assigned to a different contractor", e.CaseID)
}

// allowedRoles is the single place mapping actions to roles.
var allowedRoles = map[string][]string{
	ActionReport:           {RoleCivilian, RoleAnonymous},
	ActionApprove:          {RoleOfficial},
	ActionDeny:             {RoleOfficial},
	ActionAssign:           {RoleOfficial},
	ActionReassign:         {RoleOfficial},
	ActionStartWork:        {RoleContractor},
	ActionSubmitCompletion: {RoleContractor},
	ActionClose:            {RoleOfficial},
	ActionEscalate:         {RoleOfficial},
	ActionUpdatePayment:    {RoleOfficial},
	ActionReadAll:          {RoleOfficial},
}

// Authorize decides whether the actor may perform the action on the case.
// It is a pure function: no side effects, no store access. Contractor
// actions additionally require the actor to be the current assignee.
func Authorize(actor Actor, action string, c domain.Case) error {
	role := actor.Role
	if role == "" {
		role = RoleAnonymous
	}
	roles, ok := allowedRoles[action]
	if !ok {
		return DeniedError{Role: role, Action: action}
	}
	permitted := false
	for _, r := range roles {
		if r == role {
			permitted = true
			break
		}
	}
	if !permitted {
		return DeniedError{Role: role, Action: action}
	}
	if action == ActionStartWork || action == ActionSubmitCompletion {
		if c.AssigneeID == nil || *c.AssigneeID != actor.ID {
			return NotAssigneeError{CaseID: c.ID}
		}
	}
	return nil
}
