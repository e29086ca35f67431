package engine

import (
	"context"
	"database/sql"
	"fmt"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
)

func stepIndex(key string) int {
	for i, k := range workflowStepKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// WorkflowState is the derived view of a stage instance's micro-workflow.
type WorkflowState struct {
	Instance     domain.StageInstance       `json:"instance"`
	Steps        []domain.StageWorkflowStep `json:"steps"`
	CurrentStep  string                     `json:"current_step"`
	NoticeCount  int                        `json:"notice_count"`
	RepliesFiled int                        `json:"replies_filed"`
	HearingsHeld int                        `json:"hearings_held"`
	Progress     int                        `json:"progress"`
	CanClose     bool                       `json:"can_close"`
	Blocking     []string                   `json:"blocking_reasons,omitempty"`
}

// GetWorkflow derives the workflow state with live counts. It never mutates.
func (e *Engine) GetWorkflow(ctx context.Context, instanceID string) (WorkflowState, error) {
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	steps, err := e.Repo.ListWorkflowSteps(ctx, instanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	ordered := make([]domain.StageWorkflowStep, 0, len(workflowStepKeys))
	for _, key := range workflowStepKeys {
		for _, ws := range steps {
			if ws.StepKey == key {
				ordered = append(ordered, ws)
				break
			}
		}
	}
	st := WorkflowState{Instance: inst, Steps: ordered}

	notices, err := e.Repo.ListNoticesByInstance(ctx, instanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	st.NoticeCount = len(notices)
	replies, err := e.Repo.ListReplies(ctx, inst.CaseID)
	if err != nil {
		return WorkflowState{}, err
	}
	for _, rp := range replies {
		if rp.FilingStatus != "draft" {
			st.RepliesFiled++
		}
	}
	st.HearingsHeld, err = e.hearings().Count(ctx, instanceID)
	if err != nil {
		return WorkflowState{}, err
	}

	// current step is the first not yet settled; skipped steps count toward
	// progress since they need no further action
	done := 0
	st.CurrentStep = "closure"
	for _, ws := range ordered {
		if ws.Status == "completed" || ws.Status == "skipped" {
			done++
		}
	}
	for _, ws := range ordered {
		if ws.Status != "completed" && ws.Status != "skipped" {
			st.CurrentStep = ws.StepKey
			break
		}
	}
	if len(ordered) > 0 {
		st.Progress = done * 100 / len(ordered)
	}

	items, err := e.Repo.ListChecklistItems(ctx, instanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	// recompute auto rules in memory so can_close reflects the live state
	// even when nothing has persisted a re-evaluation yet
	if inst.Status == "active" {
		for i, ci := range items {
			if ci.RuleType == "manual" || (ci.Status != "pending" && ci.Status != "auto_ok") {
				continue
			}
			if e.evalRule(ctx, inst, ci) {
				items[i].Status = "auto_ok"
			} else {
				items[i].Status = "pending"
			}
		}
	}
	st.Blocking = BlockingReasons(items)
	st.CanClose = len(st.Blocking) == 0
	return st, nil
}

// CompleteStep marks a workflow step done. Steps complete in order; earlier
// steps must be completed or skipped first. Completing closure requires the
// checklist to pass, closes the instance and advances the case to the next
// configured stage, or closes the case at the last stage.
func (e *Engine) CompleteStep(ctx context.Context, instanceID, stepKey, actorID, notes string) (domain.StageWorkflowStep, error) {
	return e.settleStep(ctx, instanceID, stepKey, actorID, notes, "completed")
}

// SkipStep marks a non-closure step skipped. A note explaining the skip is
// mandatory.
func (e *Engine) SkipStep(ctx context.Context, instanceID, stepKey, actorID, notes string) (domain.StageWorkflowStep, error) {
	if stepKey == "closure" {
		return domain.StageWorkflowStep{}, validationf("closure cannot be skipped")
	}
	if notes == "" {
		return domain.StageWorkflowStep{}, validationf("skipping a step requires a note")
	}
	return e.settleStep(ctx, instanceID, stepKey, actorID, notes, "skipped")
}

func (e *Engine) settleStep(ctx context.Context, instanceID, stepKey, actorID, notes, outcome string) (domain.StageWorkflowStep, error) {
	if actorID == "" {
		return domain.StageWorkflowStep{}, validationf("actor_id is required")
	}
	idx := stepIndex(stepKey)
	if idx < 0 {
		return domain.StageWorkflowStep{}, validationf("unknown workflow step %q", stepKey)
	}
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.StageWorkflowStep{}, err
	}
	if inst.Status != "active" {
		return domain.StageWorkflowStep{}, invalidStatef("stage %s cycle %d is %s", inst.StageKey, inst.CycleNo, inst.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageWorkflowStep{}, err
	}
	defer tx.Rollback()

	ws, err := e.Repo.GetWorkflowStepTx(ctx, tx, instanceID, stepKey)
	if err != nil {
		return domain.StageWorkflowStep{}, err
	}
	if ws.Status == "completed" || ws.Status == "skipped" {
		return domain.StageWorkflowStep{}, invalidStatef("step %s is already %s", stepKey, ws.Status)
	}
	for _, prior := range workflowStepKeys[:idx] {
		pw, err := e.Repo.GetWorkflowStepTx(ctx, tx, instanceID, prior)
		if err != nil {
			return domain.StageWorkflowStep{}, err
		}
		if pw.Status != "completed" && pw.Status != "skipped" {
			return domain.StageWorkflowStep{}, BlockedError{
				Msg:     fmt.Sprintf("step %s cannot complete out of order", stepKey),
				Reasons: []string{fmt.Sprintf("step %s is still %s", prior, pw.Status)},
			}
		}
	}

	if stepKey == "closure" && outcome == "completed" {
		items, err := e.evaluateTx(ctx, tx, inst)
		if err != nil {
			return domain.StageWorkflowStep{}, err
		}
		if reasons := BlockingReasons(items); len(reasons) > 0 {
			return domain.StageWorkflowStep{}, BlockedError{
				Msg:     "checklist blocks closing this stage",
				Reasons: reasons,
			}
		}
	}

	now := e.now()
	ws.Status = outcome
	ws.CompletedBy = &actorID
	ws.CompletedAt = &now
	ws.Notes = notes
	if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, ws); err != nil {
		return domain.StageWorkflowStep{}, err
	}
	// move the in-progress pointer to the next open step
	for _, next := range workflowStepKeys[idx+1:] {
		nw, err := e.Repo.GetWorkflowStepTx(ctx, tx, instanceID, next)
		if err != nil {
			return domain.StageWorkflowStep{}, err
		}
		if nw.Status == "pending" {
			nw.Status = "in_progress"
			if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, nw); err != nil {
				return domain.StageWorkflowStep{}, err
			}
			break
		}
		if nw.Status == "in_progress" {
			break
		}
	}

	evtType := "workflow.step_completed"
	if outcome == "skipped" {
		evtType = "workflow.step_skipped"
	}
	if err := e.Events.Append(ctx, tx, evtType, inst.CaseID, "workflow_step", ws.ID, actorID, events.EventPayload{
		"stage_key": inst.StageKey,
		"step_key":  stepKey,
	}); err != nil {
		return domain.StageWorkflowStep{}, err
	}

	if stepKey == "closure" && outcome == "completed" {
		if err := e.closeStageTx(ctx, tx, inst, actorID, now); err != nil {
			return domain.StageWorkflowStep{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StageWorkflowStep{}, err
	}
	return ws, nil
}

// closeStageTx completes the instance and either opens the next configured
// stage or closes the case when this was the last one.
func (e *Engine) closeStageTx(ctx context.Context, tx *sql.Tx, inst domain.StageInstance, actorID, now string) error {
	closed, err := e.Repo.CloseInstanceIfActiveTx(ctx, tx, inst.ID, "completed", now)
	if err != nil {
		return err
	}
	if !closed {
		return conflictf("stage %s cycle %d is no longer active", inst.StageKey, inst.CycleNo)
	}
	next := e.Config.NextStage(inst.StageKey)
	if next == "" {
		if err := e.Repo.SetCaseStatusTx(ctx, tx, inst.CaseID, "closed", now, &now); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "case.closed", inst.CaseID, "case", inst.CaseID, actorID, events.EventPayload{
			"final_stage": inst.StageKey,
		})
	}

	cycle, err := e.Repo.NextCycleNoTx(ctx, tx, inst.CaseID, next)
	if err != nil {
		return err
	}
	to := domain.StageInstance{
		ID:        newID(),
		CaseID:    inst.CaseID,
		StageKey:  next,
		CycleNo:   cycle,
		Status:    "active",
		StartedAt: now,
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, to); err != nil {
		return err
	}
	requiresApproval := e.Config.RequiresApproval(config.TransitionForward)
	fromID := inst.ID
	t := domain.StageTransition{
		ID:               newID(),
		CaseID:           inst.CaseID,
		FromInstanceID:   &fromID,
		ToInstanceID:     to.ID,
		Type:             "forward",
		RequiresApproval: requiresApproval,
		IsConfirmed:      !requiresApproval,
		ActorID:          actorID,
		CreatedAt:        now,
	}
	if err := e.Repo.InsertTransitionTx(ctx, tx, t); err != nil {
		return err
	}
	if err := e.seedStageTx(ctx, tx, to); err != nil {
		return err
	}
	if requiresApproval {
		a := domain.TransitionApproval{
			ID:           newID(),
			TransitionID: t.ID,
			Action:       "request",
			ActorID:      actorID,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
			return err
		}
	}
	return e.Events.Append(ctx, tx, "stage.forward", inst.CaseID, "transition", t.ID, actorID, events.EventPayload{
		"from_stage":        inst.StageKey,
		"from_cycle":        inst.CycleNo,
		"to_stage":          next,
		"to_cycle":          cycle,
		"requires_approval": requiresApproval,
	})
}
