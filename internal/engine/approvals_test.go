package engine_test

import (
	"errors"
	"testing"

	"stageline/internal/domain"
	"stageline/internal/engine"
)

// remandCase opens a case, advances once and remands it back, returning the
// pending approval-gated transition.
func remandCase(t *testing.T, env testEnv) (domain.Case, domain.StageTransition) {
	t.Helper()
	c := openCase(t, env, "GST/2024/001")
	if _, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	tr, err := env.Engine.Remand(env.Ctx, engine.TransitionParams{
		CaseID:     c.ID,
		ToStageKey: "assessment",
		ReasonCode: "legal_deficiency",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("remand: %v", err)
	}
	return c, tr
}

func addApprover(t *testing.T, env testEnv, actorID, role string) {
	t.Helper()
	if err := env.Engine.Repo.EnsureActor(env.Ctx, actorID, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	if err := env.Engine.Repo.AssignRole(env.Ctx, "firm-1", actorID, role); err != nil {
		t.Fatalf("assign role: %v", err)
	}
}

func TestGatedTransitionOpensApprovalThread(t *testing.T) {
	env := newTestEnv(t)
	_, tr := remandCase(t, env)
	thread, err := env.Engine.ApprovalThread(env.Ctx, tr.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 1 || thread[0].Action != "request" || thread[0].ActorID != "tester" {
		t.Fatalf("expected an automatic request entry, got %+v", thread)
	}
}

func TestApproveConfirmsTransition(t *testing.T) {
	env := newTestEnv(t)
	_, tr := remandCase(t, env)
	addApprover(t, env, "senior", "partner")
	a, err := env.Engine.Decide(env.Ctx, tr.ID, "senior", true, "concur with remand")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if a.Action != "approve" || a.ActorRole != "partner" {
		t.Fatalf("unexpected decision: %+v", a)
	}
	got, _ := env.Engine.Repo.GetTransition(env.Ctx, tr.ID)
	if !got.IsConfirmed {
		t.Fatalf("expected confirmed transition after approval")
	}
}

func TestRejectRevertsMove(t *testing.T) {
	env := newTestEnv(t)
	c, tr := remandCase(t, env)
	addApprover(t, env, "senior", "principal")
	if _, err := env.Engine.Decide(env.Ctx, tr.ID, "senior", false, "no grounds"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	to, _ := env.Engine.Repo.GetInstance(env.Ctx, tr.ToInstanceID)
	if to.Status != "superseded" {
		t.Fatalf("expected superseded to-instance, got %s", to.Status)
	}
	from, _ := env.Engine.Repo.GetInstance(env.Ctx, *tr.FromInstanceID)
	if from.Status != "active" {
		t.Fatalf("expected reactivated from-instance, got %s", from.Status)
	}
	active, err := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	if err != nil || active.ID != from.ID {
		t.Fatalf("case should be back at the originating stage: %v", err)
	}
}

func TestDecideGuards(t *testing.T) {
	env := newTestEnv(t)
	_, tr := remandCase(t, env)
	var ve engine.ValidationError
	// the requester cannot decide their own transition
	_, err := env.Engine.Decide(env.Ctx, tr.ID, "tester", true, "")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for self-decision, got %v", err)
	}
	// an actor without an approver role cannot decide
	if err := env.Engine.Repo.EnsureActor(env.Ctx, "junior", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	_, err = env.Engine.Decide(env.Ctx, tr.ID, "junior", true, "")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without approver role, got %v", err)
	}
	// a role outside the approvals list does not count
	addApprover(t, env, "clerk", "associate")
	_, err = env.Engine.Decide(env.Ctx, tr.ID, "clerk", true, "")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for non-approver role, got %v", err)
	}
}

func TestDecideOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	_, tr := remandCase(t, env)
	addApprover(t, env, "senior", "partner")
	if _, err := env.Engine.Decide(env.Ctx, tr.ID, "senior", true, ""); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	addApprover(t, env, "second", "principal")
	_, err := env.Engine.Decide(env.Ctx, tr.ID, "second", false, "")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state on second decision, got %v", err)
	}
}

func TestDecideUnGatedTransition(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	tr, err := env.Engine.Advance(env.Ctx, engine.TransitionParams{CaseID: c.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	addApprover(t, env, "senior", "partner")
	_, err = env.Engine.Decide(env.Ctx, tr.ID, "senior", true, "")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state on forward transition, got %v", err)
	}
}

func TestRejectAfterFurtherMovementConflicts(t *testing.T) {
	env := newTestEnv(t)
	c, tr := remandCase(t, env)
	// the remanded-to stage moves on before the decision lands
	if _, err := env.Engine.SendBack(env.Ctx, engine.TransitionParams{
		CaseID:     c.ID,
		ToStageKey: "assessment",
		ReasonCode: "data_correction",
		ActorID:    "tester",
	}); err != nil {
		t.Fatalf("send back: %v", err)
	}
	addApprover(t, env, "senior", "partner")
	_, err := env.Engine.Decide(env.Ctx, tr.ID, "senior", false, "")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict reverting a moved-on instance, got %v", err)
	}
}

func TestCommentThread(t *testing.T) {
	env := newTestEnv(t)
	_, tr := remandCase(t, env)
	var ve engine.ValidationError
	_, err := env.Engine.Comment(env.Ctx, tr.ID, "tester", "")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for empty comment, got %v", err)
	}
	if _, err := env.Engine.Comment(env.Ctx, tr.ID, "tester", "awaiting certified order copy"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := env.Engine.Comment(env.Ctx, tr.ID, "tester", "copy received, circulating"); err != nil {
		t.Fatalf("second comment: %v", err)
	}
	// the pinned clock gives every entry the same timestamp; the thread
	// must still come back in insertion order
	thread, err := env.Engine.ApprovalThread(env.Ctx, tr.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 3 || thread[0].Action != "request" || thread[1].Action != "comment" || thread[2].Action != "comment" {
		t.Fatalf("expected request then comments, got %+v", thread)
	}
	if thread[1].Comments != "awaiting certified order copy" || thread[2].Comments != "copy received, circulating" {
		t.Fatalf("comments out of order: %+v", thread)
	}
}
