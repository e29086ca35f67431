package engine_test

import (
	"errors"
	"testing"

	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/repo"
)

func TestNoticeTotalDemand(t *testing.T) {
	n := domain.StageNotice{
		TaxAmount:          100000,
		InterestAmount:     5000,
		PenaltyAmount:      25000,
		TaxApplicable:      true,
		InterestApplicable: true,
		PenaltyApplicable:  false,
	}
	if got := n.TotalDemand(); got != 105000 {
		t.Fatalf("expected 105000, got %d", got)
	}
	n.PenaltyApplicable = true
	if got := n.TotalDemand(); got != 130000 {
		t.Fatalf("expected 130000, got %d", got)
	}
}

func TestCreateNoticeValidation(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	var ve engine.ValidationError
	_, err := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{CaseID: c.ID, ActorID: "tester"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without type, got %v", err)
	}
	// an instance from another case is rejected
	other := openCase(t, env, "GST/2024/002")
	otherInst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, other.ID)
	_, err = env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{
		CaseID: c.ID, InstanceID: otherInst.ID, Type: "SCN", ActorID: "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for foreign instance, got %v", err)
	}
}

func TestReplyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	inst, _ := env.Engine.Repo.GetActiveInstance(env.Ctx, c.ID)
	n, err := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{
		CaseID: c.ID, InstanceID: inst.ID, Type: "SCN", Number: "SCN-001", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create notice: %v", err)
	}
	rp, err := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{
		NoticeID: n.ID, Reference: "ARN-777", FilingMode: "portal", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if rp.FilingStatus != "draft" {
		t.Fatalf("replies start as drafts, got %s", rp.FilingStatus)
	}
	n2, _ := env.Engine.Repo.GetNotice(env.Ctx, n.ID)
	if n2.Status != "reply_pending" {
		t.Fatalf("expected reply_pending notice, got %s", n2.Status)
	}

	filed := "filed"
	rp, err = env.Engine.UpdateReply(env.Ctx, engine.UpdateReplyParams{
		ReplyID: rp.ID, FilingStatus: &filed, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("file reply: %v", err)
	}
	if rp.FilingStatus != "filed" || rp.FiledBy != "tester" || rp.FiledOn == "" {
		t.Fatalf("unexpected filed reply: %+v", rp)
	}
	n3, _ := env.Engine.Repo.GetNotice(env.Ctx, n.ID)
	if n3.Status != "replied" || n3.WorkflowStep != "reply" {
		t.Fatalf("expected replied notice at reply step, got %s/%s", n3.Status, n3.WorkflowStep)
	}

	// filed replies never go back to draft
	draft := "draft"
	_, err = env.Engine.UpdateReply(env.Ctx, engine.UpdateReplyParams{
		ReplyID: rp.ID, FilingStatus: &draft, ActorID: "tester",
	})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state unfiling, got %v", err)
	}
}

func TestCreateReplyForMissingNotice(t *testing.T) {
	env := newTestEnv(t)
	openCase(t, env, "GST/2024/001")
	_, err := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{NoticeID: "nope", ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteNoticeGuardedByFiledReplies(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	n, err := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{CaseID: c.ID, Type: "SCN", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create notice: %v", err)
	}
	rp, err := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{NoticeID: n.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	filed := "filed"
	if _, err := env.Engine.UpdateReply(env.Ctx, engine.UpdateReplyParams{
		ReplyID: rp.ID, FilingStatus: &filed, ActorID: "tester",
	}); err != nil {
		t.Fatalf("file reply: %v", err)
	}
	err = env.Engine.DeleteNotice(env.Ctx, n.ID, "tester")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict deleting notice with filed reply, got %v", err)
	}
}

func TestDeleteNoticeCascadesDrafts(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	n, _ := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{CaseID: c.ID, Type: "SCN", ActorID: "tester"})
	rp, _ := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{NoticeID: n.ID, ActorID: "tester"})
	if err := env.Engine.DeleteNotice(env.Ctx, n.ID, "tester"); err != nil {
		t.Fatalf("delete notice: %v", err)
	}
	if _, err := env.Engine.Repo.GetNotice(env.Ctx, n.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected notice gone, got %v", err)
	}
	if _, err := env.Engine.Repo.GetReply(env.Ctx, rp.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected draft reply gone, got %v", err)
	}
}

func TestDeleteReplyOnlyDrafts(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	n, _ := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{CaseID: c.ID, Type: "SCN", ActorID: "tester"})
	rp, _ := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{NoticeID: n.ID, ActorID: "tester"})
	filed := "filed"
	if _, err := env.Engine.UpdateReply(env.Ctx, engine.UpdateReplyParams{
		ReplyID: rp.ID, FilingStatus: &filed, ActorID: "tester",
	}); err != nil {
		t.Fatalf("file reply: %v", err)
	}
	err := env.Engine.DeleteReply(env.Ctx, rp.ID, "tester")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict deleting filed reply, got %v", err)
	}

	draft, _ := env.Engine.CreateReply(env.Ctx, engine.ReplyParams{NoticeID: n.ID, ActorID: "tester"})
	if err := env.Engine.DeleteReply(env.Ctx, draft.ID, "tester"); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
}

func TestUpdateNoticeVocabulary(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	n, _ := env.Engine.CreateNotice(env.Ctx, engine.NoticeParams{CaseID: c.ID, Type: "SCN", ActorID: "tester"})
	bad := "irregular"
	_, err := env.Engine.UpdateNotice(env.Ctx, engine.UpdateNoticeParams{
		NoticeID: n.ID, Status: &bad, ActorID: "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
	closed := "closed"
	num := "SCN-009"
	n2, err := env.Engine.UpdateNotice(env.Ctx, engine.UpdateNoticeParams{
		NoticeID: n.ID, Status: &closed, Number: &num, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update notice: %v", err)
	}
	if n2.Status != "closed" || n2.Number != "SCN-009" {
		t.Fatalf("unexpected notice: %+v", n2)
	}
}

func TestAddDocumentValidation(t *testing.T) {
	env := newTestEnv(t)
	c := openCase(t, env, "GST/2024/001")
	var ve engine.ValidationError
	_, err := env.Engine.AddDocument(env.Ctx, c.ID, "", "Order copy", "", "tester")
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without kind, got %v", err)
	}
	d, err := env.Engine.AddDocument(env.Ctx, c.ID, "order", "Order copy", "dms://orders/1", "tester")
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	docs, err := env.Engine.Repo.ListDocuments(env.Ctx, c.ID, "order")
	if err != nil || len(docs) != 1 || docs[0].ID != d.ID {
		t.Fatalf("expected stored order document: %v %v", docs, err)
	}
}
