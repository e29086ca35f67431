package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
)

// Engine coordinates stage lifecycle operations within transactions.
type Engine struct {
	DB     *sql.DB
	Repo   *repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// optional overrides; nil means the repo-backed defaults
	Docs     DocumentStore
	Hearings HearingSource
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:     db,
		Repo:   repo.New(db),
		Config: cfg,
		Now:    time.Now,
	}
	e.Events = events.Writer{DB: db, Now: func() time.Time { return e.Now() }}
	return e
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// workflowStepKeys is the fixed micro-workflow every stage instance carries.
var workflowStepKeys = []string{"notices", "reply", "hearings", "closure"}

// OpenCaseParams carries inputs for opening a case.
type OpenCaseParams struct {
	FirmID      string
	CaseNumber  string
	Title       string
	Description string
	StageKey    string // optional, defaults to the first configured stage
	ActorID     string
}

// OpenCase creates a case with its first active stage instance at cycle 1,
// records the opening transition and seeds the stage's checklist and workflow.
func (e *Engine) OpenCase(ctx context.Context, p OpenCaseParams) (domain.Case, error) {
	if p.FirmID == "" || p.CaseNumber == "" {
		return domain.Case{}, validationf("firm_id and case_number are required")
	}
	if p.ActorID == "" {
		return domain.Case{}, validationf("actor_id is required")
	}
	stageKey := p.StageKey
	if stageKey == "" {
		stageKey = e.Config.FirstStage()
	}
	if _, ok := e.Config.StageByKey(stageKey); !ok {
		return domain.Case{}, validationf("unknown stage %q", stageKey)
	}
	if _, err := e.Repo.GetCaseByNumber(ctx, p.FirmID, p.CaseNumber); err == nil {
		return domain.Case{}, conflictf("case number %s already exists", p.CaseNumber)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Case{}, err
	}

	now := e.now()
	c := domain.Case{
		ID:          newID(),
		FirmID:      p.FirmID,
		CaseNumber:  p.CaseNumber,
		Title:       p.Title,
		Status:      "open",
		Description: p.Description,
		OpenedAt:    now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.CreateCaseTx(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	inst := domain.StageInstance{
		ID:        newID(),
		CaseID:    c.ID,
		StageKey:  stageKey,
		CycleNo:   1,
		Status:    "active",
		StartedAt: now,
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
		return domain.Case{}, err
	}
	t := domain.StageTransition{
		ID:           newID(),
		CaseID:       c.ID,
		ToInstanceID: inst.ID,
		Type:         config.TransitionForward,
		IsConfirmed:  true,
		ActorID:      p.ActorID,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertTransitionTx(ctx, tx, t); err != nil {
		return domain.Case{}, err
	}
	if err := e.seedStageTx(ctx, tx, inst); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.opened", c.ID, "case", c.ID, p.ActorID, events.EventPayload{
		"case_number": c.CaseNumber,
		"stage_key":   stageKey,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// seedStageTx creates the checklist items from the stage's template and the
// four workflow step rows for a freshly opened instance.
func (e *Engine) seedStageTx(ctx context.Context, tx *sql.Tx, inst domain.StageInstance) error {
	stage, ok := e.Config.StageByKey(inst.StageKey)
	if !ok {
		return fmt.Errorf("stage %s not in config", inst.StageKey)
	}
	for _, tpl := range stage.Checklist {
		ci := domain.ChecklistItem{
			ID:         newID(),
			InstanceID: inst.ID,
			ItemKey:    tpl.Key,
			Label:      tpl.Label,
			Required:   tpl.Required,
			RuleType:   tpl.Rule,
			RuleParam:  tpl.Param,
			Status:     "pending",
		}
		if err := e.Repo.InsertChecklistItemTx(ctx, tx, ci); err != nil {
			return err
		}
	}
	for i, key := range workflowStepKeys {
		status := "pending"
		if i == 0 {
			status = "in_progress"
		}
		ws := domain.StageWorkflowStep{
			ID:         newID(),
			InstanceID: inst.ID,
			StepKey:    key,
			Status:     status,
		}
		if err := e.Repo.InsertWorkflowStepTx(ctx, tx, ws); err != nil {
			return err
		}
	}
	return nil
}

// TransitionParams carries inputs common to advance, remand and send-back.
type TransitionParams struct {
	CaseID          string
	FromInstanceID  string // optional, defaults to the case's active instance
	ToStageKey      string
	ReasonCode      string
	Reason          string
	OrderNo         string
	OrderDate       string
	OrderDocumentID string
	Comments        string
	ActorID         string
}

// Advance moves the case forward to the given stage, or to the next
// configured stage when ToStageKey is empty.
func (e *Engine) Advance(ctx context.Context, p TransitionParams) (domain.StageTransition, error) {
	return e.transition(ctx, config.TransitionForward, p)
}

// Remand returns the case to an earlier stage after an appellate order,
// opening a fresh cycle there. A reason code from the remand vocabulary is
// mandatory.
func (e *Engine) Remand(ctx context.Context, p TransitionParams) (domain.StageTransition, error) {
	return e.transition(ctx, config.TransitionRemand, p)
}

// SendBack returns the case to an earlier stage for correction. A reason code
// from the send-back vocabulary is mandatory.
func (e *Engine) SendBack(ctx context.Context, p TransitionParams) (domain.StageTransition, error) {
	return e.transition(ctx, config.TransitionSendBack, p)
}

func (e *Engine) transition(ctx context.Context, transitionType string, p TransitionParams) (domain.StageTransition, error) {
	if p.ActorID == "" {
		return domain.StageTransition{}, validationf("actor_id is required")
	}
	c, err := e.Repo.GetCase(ctx, p.CaseID)
	if err != nil {
		return domain.StageTransition{}, err
	}
	if c.Status == "closed" {
		return domain.StageTransition{}, invalidStatef("case %s is closed", c.CaseNumber)
	}

	var from domain.StageInstance
	if p.FromInstanceID != "" {
		from, err = e.Repo.GetInstance(ctx, p.FromInstanceID)
		if err != nil {
			return domain.StageTransition{}, err
		}
		if from.CaseID != p.CaseID {
			return domain.StageTransition{}, validationf("instance %s does not belong to case %s", p.FromInstanceID, c.CaseNumber)
		}
		if from.Status != "active" {
			return domain.StageTransition{}, invalidStatef("stage %s cycle %d is %s", from.StageKey, from.CycleNo, from.Status)
		}
	} else {
		from, err = e.Repo.GetActiveInstance(ctx, p.CaseID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.StageTransition{}, invalidStatef("case %s has no active stage", c.CaseNumber)
			}
			return domain.StageTransition{}, err
		}
	}

	toStage := p.ToStageKey
	switch transitionType {
	case config.TransitionForward:
		if toStage == "" {
			toStage = e.Config.NextStage(from.StageKey)
			if toStage == "" {
				return domain.StageTransition{}, invalidStatef("stage %s is the last stage; close the case instead", from.StageKey)
			}
		}
	case config.TransitionRemand, config.TransitionSendBack:
		if toStage == "" {
			return domain.StageTransition{}, validationf("target stage is required for %s", transitionType)
		}
		if p.ReasonCode == "" {
			return domain.StageTransition{}, validationf("reason_code is required for %s", transitionType)
		}
		if !e.Config.ReasonAllowed(transitionType, p.ReasonCode) {
			return domain.StageTransition{}, validationf("reason_code %q is not in the %s vocabulary", p.ReasonCode, transitionType)
		}
	}
	if _, ok := e.Config.StageByKey(toStage); !ok {
		return domain.StageTransition{}, validationf("unknown stage %q", toStage)
	}
	// remand and send-back may reopen the same stage as a fresh cycle
	if transitionType == config.TransitionForward && toStage == from.StageKey {
		return domain.StageTransition{}, validationf("case is already at stage %s", toStage)
	}

	fromStatus := "completed"
	if transitionType == config.TransitionRemand {
		fromStatus = "remanded"
	}
	requiresApproval := e.Config.RequiresApproval(transitionType)
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageTransition{}, err
	}
	defer tx.Rollback()

	closed, err := e.Repo.CloseInstanceIfActiveTx(ctx, tx, from.ID, fromStatus, now)
	if err != nil {
		return domain.StageTransition{}, err
	}
	if !closed {
		return domain.StageTransition{}, conflictf("stage %s cycle %d is no longer active", from.StageKey, from.CycleNo)
	}

	cycle, err := e.Repo.NextCycleNoTx(ctx, tx, p.CaseID, toStage)
	if err != nil {
		return domain.StageTransition{}, err
	}
	to := domain.StageInstance{
		ID:        newID(),
		CaseID:    p.CaseID,
		StageKey:  toStage,
		CycleNo:   cycle,
		Status:    "active",
		StartedAt: now,
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, to); err != nil {
		return domain.StageTransition{}, err
	}

	fromID := from.ID
	t := domain.StageTransition{
		ID:               newID(),
		CaseID:           p.CaseID,
		FromInstanceID:   &fromID,
		ToInstanceID:     to.ID,
		Type:             transitionType,
		ReasonCode:       p.ReasonCode,
		Reason:           p.Reason,
		OrderNo:          p.OrderNo,
		OrderDate:        p.OrderDate,
		Comments:         p.Comments,
		RequiresApproval: requiresApproval,
		IsConfirmed:      !requiresApproval,
		ActorID:          p.ActorID,
		CreatedAt:        now,
	}
	if p.OrderDocumentID != "" {
		docID := p.OrderDocumentID
		t.OrderDocumentID = &docID
	}
	if err := e.Repo.InsertTransitionTx(ctx, tx, t); err != nil {
		return domain.StageTransition{}, err
	}
	if err := e.seedStageTx(ctx, tx, to); err != nil {
		return domain.StageTransition{}, err
	}
	if requiresApproval {
		a := domain.TransitionApproval{
			ID:           newID(),
			TransitionID: t.ID,
			Action:       "request",
			ActorID:      p.ActorID,
			Comments:     p.Comments,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
			return domain.StageTransition{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "stage."+transitionType, p.CaseID, "transition", t.ID, p.ActorID, events.EventPayload{
		"from_stage":        from.StageKey,
		"from_cycle":        from.CycleNo,
		"to_stage":          toStage,
		"to_cycle":          cycle,
		"reason_code":       p.ReasonCode,
		"requires_approval": requiresApproval,
	}); err != nil {
		return domain.StageTransition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageTransition{}, err
	}
	return t, nil
}

// CaseState is the derived snapshot of where a case stands.
type CaseState struct {
	Case       domain.Case              `json:"case"`
	Active     *domain.StageInstance    `json:"active_stage,omitempty"`
	StageLabel string                   `json:"stage_label,omitempty"`
	History    []domain.StageInstance   `json:"history"`
	Workflow   *WorkflowState           `json:"workflow,omitempty"`
	Checklist  []domain.ChecklistItem   `json:"checklist,omitempty"`
	Pending    []domain.StageTransition `json:"pending_approvals,omitempty"`
}

// CurrentState derives the case's position: active instance, full instance
// history, the active instance's workflow and checklist, and any transitions
// still awaiting approval.
func (e *Engine) CurrentState(ctx context.Context, caseID string) (CaseState, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return CaseState{}, err
	}
	st := CaseState{Case: c}
	st.History, err = e.Repo.ListInstances(ctx, caseID)
	if err != nil {
		return CaseState{}, err
	}
	active, err := e.Repo.GetActiveInstance(ctx, caseID)
	switch {
	case err == nil:
		st.Active = &active
		if stage, ok := e.Config.StageByKey(active.StageKey); ok {
			st.StageLabel = stage.Label
		}
		wf, err := e.GetWorkflow(ctx, active.ID)
		if err != nil {
			return CaseState{}, err
		}
		st.Workflow = &wf
		st.Checklist, err = e.Repo.ListChecklistItems(ctx, active.ID)
		if err != nil {
			return CaseState{}, err
		}
	case errors.Is(err, repo.ErrNotFound):
		// closed or reverted case, history only
	default:
		return CaseState{}, err
	}
	transitions, err := e.Repo.ListTransitions(ctx, caseID)
	if err != nil {
		return CaseState{}, err
	}
	for _, t := range transitions {
		if t.RequiresApproval && !t.IsConfirmed {
			st.Pending = append(st.Pending, t)
		}
	}
	return st, nil
}

// UpdateCaseParams carries optional field updates for a case.
type UpdateCaseParams struct {
	CaseID       string
	Title        *string
	Description  *string
	AssignedToID *string
	OnHold       *bool
	ActorID      string
}

// UpdateCase applies field updates and hold/resume toggles. Closing a case is
// done by completing its final stage, not here.
func (e *Engine) UpdateCase(ctx context.Context, p UpdateCaseParams) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, p.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status == "closed" {
		return domain.Case{}, invalidStatef("case %s is closed", c.CaseNumber)
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.AssignedToID != nil {
		if *p.AssignedToID == "" {
			c.AssignedToID = nil
		} else {
			c.AssignedToID = p.AssignedToID
		}
	}
	if p.OnHold != nil {
		if *p.OnHold {
			c.Status = "on_hold"
		} else {
			c.Status = "open"
		}
	}
	c.UpdatedAt = e.now()
	if err := e.Repo.UpdateCase(ctx, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}
