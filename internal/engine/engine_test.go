package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("firm-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.CreateFirm(ctx, domain.Firm{ID: "firm-1", Name: "Test Firm", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("create firm: %v", err)
	}
	if err := eng.Repo.EnsureActor(ctx, "tester", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func openCase(t *testing.T, env testEnv, number string) domain.Case {
	t.Helper()
	c, err := env.Engine.OpenCase(env.Ctx, engine.OpenCaseParams{
		FirmID:     "firm-1",
		CaseNumber: number,
		Title:      "Demand under scrutiny",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("open case: %v", err)
	}
	return c
}

func TestOpenCaseSeedsFirstStage(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	if c.Status != "open" {
		t.Fatalf("expected open case, got %s", c.Status)
	}
	inst, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("active instance: %v", err)
	}
	if inst.StageKey != "assessment" || inst.CycleNo != 1 {
		t.Fatalf("expected assessment cycle 1, got %s cycle %d", inst.StageKey, inst.CycleNo)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 seeded checklist items, got %d", len(items))
	}
	steps, err := env.Engine.Repo.ListWorkflowSteps(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 workflow steps, got %d", len(steps))
	}
	wf, err := env.Engine.GetWorkflow(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if wf.CurrentStep != "notices" {
		t.Fatalf("expected notices in progress, got %s", wf.CurrentStep)
	}
	// the opening move is recorded as a confirmed forward transition
	txs, err := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != "forward" || !txs[0].IsConfirmed || txs[0].FromInstanceID != nil {
		t.Fatalf("unexpected opening transition: %+v", txs)
	}
}

func TestOpenCaseValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.OpenCase(env.Ctx, engine.OpenCaseParams{FirmID: "firm-1", ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for missing number, got %v", err)
	}
	openCase(t, env, "GST/2024/001")
	_, err = env.Engine.OpenCase(env.Ctx, engine.OpenCaseParams{
		FirmID: "firm-1", CaseNumber: "GST/2024/001", ActorID: "tester",
	})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on duplicate number, got %v", err)
	}
	_, err = env.Engine.OpenCase(env.Ctx, engine.OpenCaseParams{
		FirmID: "firm-1", CaseNumber: "GST/2024/002", StageKey: "nonsense", ActorID: "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
}

func TestAdvanceDefaultsToNextStage(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	first, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	tr, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if tr.Type != "forward" || tr.RequiresApproval || !tr.IsConfirmed {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	active, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.StageKey != "notice" || active.CycleNo != 1 {
		t.Fatalf("expected notice cycle 1, got %s cycle %d", active.StageKey, active.CycleNo)
	}
	old, err := env.Engine.Repo.GetInstance(env.Ctx, first.ID)
	if err != nil {
		t.Fatalf("old instance: %v", err)
	}
	if old.Status != "completed" || old.EndedAt == nil {
		t.Fatalf("expected completed old instance, got %+v", old)
	}
}

func TestAdvanceToSameStageRejected(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	_, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ToStageKey: "assessment", ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdvancePastLastStageRejected(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	for i := 0; i < 5; i++ {
		if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	active, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if active.StageKey != "appeal" {
		t.Fatalf("expected appeal, got %s", active.StageKey)
	}
	_, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state at last stage, got %v", err)
	}
}

func TestRemandOpensFreshCycle(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	fromNotice, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	tr, err := env.Engine.Remand(env.Ctx, engine.TransitionParams{
		CaseID:     c.ID,
		ToStageKey: "assessment",
		ReasonCode: "legal_deficiency",
		Reason:     "matter remanded for fresh adjudication",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("remand: %v", err)
	}
	if tr.Type != "remand" || !tr.RequiresApproval || tr.IsConfirmed {
		t.Fatalf("remand should be approval-gated and unconfirmed: %+v", tr)
	}
	active, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if active.StageKey != "assessment" || active.CycleNo != 2 {
		t.Fatalf("expected assessment cycle 2, got %s cycle %d", active.StageKey, active.CycleNo)
	}
	old, _ := env.Engine.Repo.GetInstance(env.Ctx, fromNotice.ID)
	if old.Status != "remanded" {
		t.Fatalf("expected remanded from-instance, got %s", old.Status)
	}
}

func TestRemandReasonVocabulary(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	var ve engine.ValidationError
	_, err := env.Engine.Remand(env.Ctx, engine.TransitionParams{CaseID: c.ID, ToStageKey: "assessment", ActorID: "tester"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without reason_code, got %v", err)
	}
	// send-back codes are not valid remand codes
	_, err = env.Engine.Remand(env.Ctx, engine.TransitionParams{
		CaseID: c.ID, ToStageKey: "assessment", ReasonCode: "data_correction", ActorID: "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for wrong vocabulary, got %v", err)
	}
}

func TestSendBackReopensSameStage(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	tr, err := env.Engine.SendBack(env.Ctx, engine.TransitionParams{
		CaseID:     c.ID,
		ToStageKey: "assessment",
		ReasonCode: "data_correction",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("send back: %v", err)
	}
	if tr.Type != "send_back" || !tr.RequiresApproval {
		t.Fatalf("unexpected send-back transition: %+v", tr)
	}
	active, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if active.StageKey != "assessment" || active.CycleNo != 2 {
		t.Fatalf("expected assessment cycle 2, got %s cycle %d", active.StageKey, active.CycleNo)
	}
	from, _ := env.Engine.Repo.GetInstance(env.Ctx, *tr.FromInstanceID)
	if from.Status != "completed" {
		t.Fatalf("send-back closes the from-instance as completed, got %s", from.Status)
	}
}

func TestStaleFromInstanceRejected(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	first, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{
		CaseID: c.ID, FromInstanceID: first.ID, ActorID: "tester",
	})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state for settled from-instance, got %v", err)
	}
}

func TestLostAdvanceRaceConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	// a competing advance commits after this one's checks but before its
	// write; the clock hook sits exactly in that window
	base := env.Engine.Now
	raced := false
	env.Engine.Now = func() time.Time {
		if !raced {
			raced = true
			if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
				t.Errorf("competing advance: %v", err)
			}
		}
		return base()
	}
	_, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict for lost race, got %v", err)
	}
	active, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.StageKey != "notice" {
		t.Fatalf("winner's advance should stand, got stage %s", active.StageKey)
	}
}

func TestClosedCaseRejectsTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE cases SET status='closed' WHERE id=?`, c.ID); err != nil {
		t.Fatalf("close case: %v", err)
	}
	_, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state on closed case, got %v", err)
	}
}

func TestCurrentStateCarriesWorkflow(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	st, err := env.Engine.CurrentState(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Active == nil || st.Active.StageKey != "assessment" {
		t.Fatalf("expected active assessment stage: %+v", st.Active)
	}
	if st.Workflow == nil || st.Workflow.CurrentStep != "notices" || st.Workflow.Progress != 0 {
		t.Fatalf("unexpected workflow state: %+v", st.Workflow)
	}
	if len(st.Checklist) != 4 {
		t.Fatalf("expected 4 checklist items, got %d", len(st.Checklist))
	}
	if len(st.History) != 1 {
		t.Fatalf("expected 1 instance in history, got %d", len(st.History))
	}
}

func TestUpdateCaseHold(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	hold := true
	c2, err := env.Engine.UpdateCase(env.Ctx, engine.UpdateCaseParams{CaseID: c.ID, OnHold: &hold, ActorID: "tester"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if c2.Status != "on_hold" {
		t.Fatalf("expected on_hold, got %s", c2.Status)
	}
	hold = false
	c3, err := env.Engine.UpdateCase(env.Ctx, engine.UpdateCaseParams{CaseID: c.ID, OnHold: &hold, ActorID: "tester"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if c3.Status != "open" {
		t.Fatalf("expected open, got %s", c3.Status)
	}
}

func TestEventsAppendedOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, c.ID, "", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 2 {
		t.Fatalf("expected case.opened and stage.forward events, got %d", len(evts))
	}
	if evts[0].Type != "case.opened" {
		t.Fatalf("first event should be case.opened, got %s", evts[0].Type)
	}
	last := evts[len(evts)-1]
	if last.Type != "stage.forward" {
		t.Fatalf("last event should be stage.forward, got %s", last.Type)
	}
}
