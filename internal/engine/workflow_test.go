package engine_test

import (
	"errors"
	"testing"

	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/repo"
)

// satisfyAssessment clears every required assessment checklist item.
func satisfyAssessment(t *testing.T, env testEnv, c domain.Case, instanceID string) {
	t.Helper()
	if _, err := env.Engine.Attest(env.Ctx, instanceID, "facts.reviewed", "tester", "", ""); err != nil {
		t.Fatalf("attest facts: %v", err)
	}
	if _, err := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{
		CaseID: c.ID, InstanceID: instanceID, Type: "SCN", Number: "SCN-001", ActorID: "tester",
	}); err != nil {
		t.Fatalf("create notice: %v", err)
	}
	if _, err := env.Engine.AddDocument(env.Ctx, c.ID, "order", "Order copy", "", "tester"); err != nil {
		t.Fatalf("add order doc: %v", err)
	}
}

func TestStepsCompleteInOrder(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	_, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "reply", "tester", "")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked error out of order, got %v", err)
	}
	if len(be.Reasons) == 0 {
		t.Fatalf("expected a blocking reason naming the open step")
	}
	ws, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "notices", "tester", "all notices on file")
	if err != nil {
		t.Fatalf("complete notices: %v", err)
	}
	if ws.Status != "completed" || ws.CompletedBy == nil || *ws.CompletedBy != "tester" {
		t.Fatalf("unexpected step after completion: %+v", ws)
	}
	if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "reply", "tester", ""); err != nil {
		t.Fatalf("complete reply: %v", err)
	}
	_, err = env.Engine.CompleteStep(env.Ctx, inst.ID, "notices", "tester", "")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state re-completing a step, got %v", err)
	}
}

func TestSkipStepRules(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	var ve engine.ValidationError
	_, err := env.Engine.SkipStep(env.Ctx, inst.ID, "closure", "tester", "n/a")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error skipping closure, got %v", err)
	}
	_, err = env.Engine.SkipStep(env.Ctx, inst.ID, "notices", "tester", "")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without a note, got %v", err)
	}
	ws, err := env.Engine.SkipStep(env.Ctx, inst.ID, "notices", "tester", "no notices at this stage")
	if err != nil {
		t.Fatalf("skip notices: %v", err)
	}
	if ws.Status != "skipped" {
		t.Fatalf("expected skipped, got %s", ws.Status)
	}
	wf, err := env.Engine.GetWorkflow(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if wf.CurrentStep != "reply" {
		t.Fatalf("expected reply in progress after skip, got %s", wf.CurrentStep)
	}
}

func TestClosureBlockedByChecklist(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	for _, step := range []string{"notices", "reply", "hearings"} {
		if _, err := env.Engine.SkipStep(env.Ctx, inst.ID, step, "tester", "not applicable"); err != nil {
			t.Fatalf("skip %s: %v", step, err)
		}
	}
	_, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "closure", "tester", "")
	var be engine.BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected blocked closure, got %v", err)
	}
	if len(be.Reasons) == 0 {
		t.Fatalf("expected checklist reasons on the blocked error")
	}
	// the instance stays active and open
	active, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil || active.ID != inst.ID {
		t.Fatalf("instance should remain active: %v", err)
	}
}

func TestClosureAdvancesToNextStage(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	satisfyAssessment(t, env, c, inst.ID)
	for _, step := range []string{"notices", "reply", "hearings"} {
		if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, step, "tester", ""); err != nil {
			t.Fatalf("complete %s: %v", step, err)
		}
	}
	if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "closure", "tester", "stage done"); err != nil {
		t.Fatalf("complete closure: %v", err)
	}
	old, _ := env.Engine.Repo.GetInstance(env.Ctx, inst.ID)
	if old.Status != "completed" {
		t.Fatalf("expected completed instance, got %s", old.Status)
	}
	active, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("active after closure: %v", err)
	}
	if active.StageKey != "notice" || active.CycleNo != 1 {
		t.Fatalf("expected notice cycle 1, got %s cycle %d", active.StageKey, active.CycleNo)
	}
	// the auto-advance is a confirmed forward move
	txs, _ := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	last := txs[len(txs)-1]
	if last.Type != "forward" || !last.IsConfirmed || last.ToInstanceID != active.ID {
		t.Fatalf("unexpected closure transition: %+v", last)
	}
}

func TestClosureAdvanceHonorsForwardGating(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Approvals.Transitions = append(env.Engine.Config.Approvals.Transitions, "forward")
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	satisfyAssessment(t, env, c, inst.ID)
	for _, step := range []string{"notices", "reply", "hearings"} {
		if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, step, "tester", ""); err != nil {
			t.Fatalf("complete %s: %v", step, err)
		}
	}
	if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "closure", "tester", ""); err != nil {
		t.Fatalf("complete closure: %v", err)
	}
	txs, _ := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	last := txs[len(txs)-1]
	if last.Type != "forward" || !last.RequiresApproval || last.IsConfirmed {
		t.Fatalf("gated closure advance should await approval: %+v", last)
	}
	thread, err := env.Engine.ApprovalThread(env.Ctx, last.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 1 || thread[0].Action != "request" {
		t.Fatalf("expected an opening request entry, got %+v", thread)
	}
}

func TestFinalStageClosureClosesCase(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.OpenCase(env.Ctx, engine.OpenCaseParams{
		FirmID: "firm-1", CaseNumber: "GST/2024/001", StageKey: "appeal", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("open case: %v", err)
	}
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if _, err := env.Engine.AddDocument(env.Ctx, c.ID, "appeal_memo", "Appeal memo", "", "tester"); err != nil {
		t.Fatalf("add memo: %v", err)
	}
	if _, err := env.Engine.Attest(env.Ctx, inst.ID, "predeposit.paid", "tester", "challan attached", ""); err != nil {
		t.Fatalf("attest predeposit: %v", err)
	}
	for _, step := range []string{"notices", "reply", "hearings"} {
		if _, err := env.Engine.SkipStep(env.Ctx, inst.ID, step, "tester", "handled at lower forum"); err != nil {
			t.Fatalf("skip %s: %v", step, err)
		}
	}
	if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "closure", "tester", ""); err != nil {
		t.Fatalf("closure: %v", err)
	}
	got, _ := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if got.Status != "closed" || got.ClosedAt == nil {
		t.Fatalf("expected closed case, got %+v", got)
	}
	_, err = env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no active instance after close, got %v", err)
	}
}

func TestGetWorkflowCountsAndProgress(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if _, err := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{
		CaseID: c.ID, InstanceID: inst.ID, Type: "SCN", Number: "SCN-001", ActorID: "tester",
	}); err != nil {
		t.Fatalf("create notice: %v", err)
	}
	if _, err := env.Engine.CompleteStep(env.Ctx, inst.ID, "notices", "tester", ""); err != nil {
		t.Fatalf("complete notices: %v", err)
	}
	if _, err := env.Engine.SkipStep(env.Ctx, inst.ID, "reply", "tester", "no reply due"); err != nil {
		t.Fatalf("skip reply: %v", err)
	}
	wf, err := env.Engine.GetWorkflow(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if wf.CurrentStep != "hearings" {
		t.Fatalf("expected hearings current, got %s", wf.CurrentStep)
	}
	if wf.Progress != 50 {
		t.Fatalf("expected 50%% progress, got %d", wf.Progress)
	}
	if wf.NoticeCount != 1 {
		t.Fatalf("expected 1 notice, got %d", wf.NoticeCount)
	}
	if wf.CanClose {
		t.Fatalf("checklist still blocks, can_close must be false")
	}
}

func TestGetWorkflowSeesUnpersistedRuleState(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	// satisfy everything without ever running a persisted evaluation
	satisfyAssessment(t, env, c, inst.ID)
	wf, err := env.Engine.GetWorkflow(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if !wf.CanClose || len(wf.Blocking) != 0 {
		t.Fatalf("expected closable workflow, blocking: %v", wf.Blocking)
	}
	// the stored rows stay untouched
	if got := itemByKey(t, env, inst.ID, "notice.recorded"); got != "pending" {
		t.Fatalf("read path must not persist rule state, got %s", got)
	}
}
