package booking

import (
	"fmt"

	"runnerhub/models"
)

type edge struct {
	from   models.Status
	action models.Action
}

type rule struct {
	role models.Role
	to   models.Status
}

// transitions is the complete lifecycle. Anything missing is illegal.
var transitions = map[edge]rule{
	{models.StatusPending, models.ActionAccept}:      {models.RoleProvider, models.StatusAccepted},
	{models.StatusPending, models.ActionDecline}:     {models.RoleProvider, models.StatusDeclined},
	{models.StatusPending, models.ActionCancel}:      {models.RoleRequester, models.StatusCancelled},
	{models.StatusAccepted, models.ActionStart}:      {models.RoleProvider, models.StatusInProgress},
	{models.StatusAccepted, models.ActionCancel}:     {models.RoleRequester, models.StatusCancelled},
	{models.StatusInProgress, models.ActionComplete}: {models.RoleProvider, models.StatusCompleted},
}

// ParticipantRole returns the role id plays in b: requester, provider, or
// moderator/admin when id is staff and not a party. ok is false for
// outsiders.
func ParticipantRole(b models.Booking, id models.Identity) (models.Role, bool) {
	switch {
	case id.ID != "" && id.ID == b.ProviderID:
		return models.RoleProvider, true
	case id.ID != "" && id.ID == b.RequesterID:
		return models.RoleRequester, true
	case id.Staff():
		return id.Role, true
	}
	return "", false
}

// CanAccess is the one authorization predicate for reading a booking,
// joining its room and writing to its conversation.
func CanAccess(b models.Booking, id models.Identity) bool {
	_, ok := ParticipantRole(b, id)
	return ok
}

// Decide checks whether actor may apply action to b and returns the
// resulting status. Outsiders get ErrForbidden before the table is
// consulted. Staff skip the role check but not the table.
func Decide(b models.Booking, actor models.Identity, action models.Action) (models.Status, error) {
	role, ok := ParticipantRole(b, actor)
	if !ok {
		return "", fmt.Errorf("%s is not a party to booking %s: %w", actor.ID, b.ID, models.ErrForbidden)
	}

	if !validAction(action) {
		return "", fmt.Errorf("unknown action %q: %w", action, models.ErrInvalidTransition)
	}

	r, ok := transitions[edge{b.Status, action}]
	if !ok {
		return "", fmt.Errorf("cannot %s a booking that is %s: %w", action, b.Status, models.ErrInvalidTransition)
	}

	if role != r.role && !actor.Staff() {
		return "", fmt.Errorf("only the %s may %s this booking: %w", r.role, action, models.ErrForbidden)
	}
	return r.to, nil
}

// Actions lists what actor may currently do with b, for clients that render
// buttons.
func Actions(b models.Booking, actor models.Identity) []models.Action {
	var out []models.Action
	for _, a := range []models.Action{
		models.ActionAccept, models.ActionDecline, models.ActionStart, models.ActionComplete, models.ActionCancel,
	} {
		if _, err := Decide(b, actor, a); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func validAction(a models.Action) bool {
	switch a {
	case models.ActionAccept, models.ActionDecline, models.ActionCancel, models.ActionStart, models.ActionComplete:
		return true
	}
	return false
}
