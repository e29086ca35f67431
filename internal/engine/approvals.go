package engine

import (
	"context"

	"stageline/internal/domain"
	"stageline/internal/events"
)

// approverRole returns the first configured approver role the actor holds in
// the firm, or "" when they hold none.
func (e *Engine) approverRole(ctx context.Context, firmID, actorID string) (string, error) {
	roles, err := e.Repo.ActorRoles(ctx, firmID, actorID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if e.Config.RoleMayApprove(role) {
			return role, nil
		}
	}
	return "", nil
}

// RequestApproval records an approval request on a pending transition.
// Transitions configured as approval-gated get an initial request recorded
// automatically; this re-requests after a stalled thread.
func (e *Engine) RequestApproval(ctx context.Context, transitionID, actorID, comments string) (domain.TransitionApproval, error) {
	if actorID == "" {
		return domain.TransitionApproval{}, validationf("actor_id is required")
	}
	t, err := e.Repo.GetTransition(ctx, transitionID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	if !t.RequiresApproval {
		return domain.TransitionApproval{}, invalidStatef("transition %s does not require approval", transitionID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	defer tx.Rollback()
	thread, err := e.Repo.ListApprovalsTx(ctx, tx, transitionID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	for _, a := range thread {
		if a.Action == "approve" || a.Action == "reject" {
			return domain.TransitionApproval{}, invalidStatef("transition %s is already decided (%s)", transitionID, a.Action)
		}
	}
	a := domain.TransitionApproval{
		ID:           newID(),
		TransitionID: transitionID,
		Action:       "request",
		ActorID:      actorID,
		Comments:     comments,
		CreatedAt:    e.now(),
	}
	if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return domain.TransitionApproval{}, err
	}
	if err := e.Events.Append(ctx, tx, "transition.approval_requested", t.CaseID, "transition", transitionID, actorID, nil); err != nil {
		return domain.TransitionApproval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TransitionApproval{}, err
	}
	return a, nil
}

// Decide records an approve or reject on a pending transition. Approving
// confirms the transition; rejecting reverts the move so the originating
// stage instance is active again.
func (e *Engine) Decide(ctx context.Context, transitionID, actorID string, approve bool, comments string) (domain.TransitionApproval, error) {
	if actorID == "" {
		return domain.TransitionApproval{}, validationf("actor_id is required")
	}
	t, err := e.Repo.GetTransition(ctx, transitionID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	if !t.RequiresApproval {
		return domain.TransitionApproval{}, invalidStatef("transition %s does not require approval", transitionID)
	}
	if t.ActorID == actorID {
		return domain.TransitionApproval{}, validationf("a transition cannot be decided by its requester")
	}
	c, err := e.Repo.GetCase(ctx, t.CaseID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	role, err := e.approverRole(ctx, c.FirmID, actorID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	if role == "" {
		return domain.TransitionApproval{}, validationf("actor %s holds no approver role", actorID)
	}

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	defer tx.Rollback()

	// re-read the thread inside the tx so two deciders cannot both land
	thread, err := e.Repo.ListApprovalsTx(ctx, tx, transitionID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	for _, a := range thread {
		if a.Action == "approve" || a.Action == "reject" {
			return domain.TransitionApproval{}, invalidStatef("transition %s is already decided (%s)", transitionID, a.Action)
		}
	}

	action := "approve"
	if !approve {
		action = "reject"
	}
	a := domain.TransitionApproval{
		ID:           newID(),
		TransitionID: transitionID,
		Action:       action,
		ActorID:      actorID,
		ActorRole:    role,
		Comments:     comments,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return domain.TransitionApproval{}, err
	}

	if approve {
		if err := e.Repo.SetTransitionConfirmedTx(ctx, tx, transitionID, true); err != nil {
			return domain.TransitionApproval{}, err
		}
	} else {
		// the move never legally took effect: retire the new instance and
		// reopen the old one
		superseded, err := e.Repo.SupersedeInstanceIfActiveTx(ctx, tx, t.ToInstanceID, now)
		if err != nil {
			return domain.TransitionApproval{}, err
		}
		if !superseded {
			return domain.TransitionApproval{}, conflictf("stage instance %s has moved on and cannot be reverted", t.ToInstanceID)
		}
		if t.FromInstanceID != nil {
			if err := e.Repo.ReactivateInstanceTx(ctx, tx, *t.FromInstanceID); err != nil {
				return domain.TransitionApproval{}, err
			}
		}
	}

	evtType := "transition.approved"
	if !approve {
		evtType = "transition.rejected"
	}
	if err := e.Events.Append(ctx, tx, evtType, t.CaseID, "transition", transitionID, actorID, events.EventPayload{
		"type":       t.Type,
		"actor_role": role,
	}); err != nil {
		return domain.TransitionApproval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TransitionApproval{}, err
	}
	return a, nil
}

// Comment appends a discussion entry to a transition's approval thread.
func (e *Engine) Comment(ctx context.Context, transitionID, actorID, comments string) (domain.TransitionApproval, error) {
	if actorID == "" {
		return domain.TransitionApproval{}, validationf("actor_id is required")
	}
	if comments == "" {
		return domain.TransitionApproval{}, validationf("comment text is required")
	}
	t, err := e.Repo.GetTransition(ctx, transitionID)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	a := domain.TransitionApproval{
		ID:           newID(),
		TransitionID: transitionID,
		Action:       "comment",
		ActorID:      actorID,
		Comments:     comments,
		CreatedAt:    e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return domain.TransitionApproval{}, err
	}
	if err := e.Events.Append(ctx, tx, "transition.commented", t.CaseID, "transition", transitionID, actorID, nil); err != nil {
		return domain.TransitionApproval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TransitionApproval{}, err
	}
	return a, nil
}

// ApprovalThread returns the full approval history for a transition.
func (e *Engine) ApprovalThread(ctx context.Context, transitionID string) ([]domain.TransitionApproval, error) {
	if _, err := e.Repo.GetTransition(ctx, transitionID); err != nil {
		return nil, err
	}
	return e.Repo.ListApprovals(ctx, transitionID)
}
