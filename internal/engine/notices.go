package engine

import (
	"context"
	"errors"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
)

// NoticeParams carries inputs for creating or updating a notice.
type NoticeParams struct {
	CaseID             string
	InstanceID         string // optional, attaches to a stage instance
	Type               string
	Number             string
	IssuedOn           string
	DueOn              string
	TaxAmount          int64
	InterestAmount     int64
	PenaltyAmount      int64
	TaxApplicable      bool
	InterestApplicable bool
	PenaltyApplicable  bool
	IsOriginal         bool
	DocumentIDs        []string
	ActorID            string
}

func (e *Engine) CreateNotice(ctx context.Context, p NoticeParams) (domain.StageNotice, error) {
	if p.ActorID == "" {
		return domain.StageNotice{}, validationf("actor_id is required")
	}
	if p.Type == "" {
		return domain.StageNotice{}, validationf("notice type is required")
	}
	if _, err := e.Repo.GetCase(ctx, p.CaseID); err != nil {
		return domain.StageNotice{}, err
	}
	if p.InstanceID != "" {
		inst, err := e.Repo.GetInstance(ctx, p.InstanceID)
		if err != nil {
			return domain.StageNotice{}, err
		}
		if inst.CaseID != p.CaseID {
			return domain.StageNotice{}, validationf("instance %s does not belong to this case", p.InstanceID)
		}
	}

	now := e.now()
	n := domain.StageNotice{
		ID:                 newID(),
		CaseID:             p.CaseID,
		Type:               p.Type,
		Number:             p.Number,
		IssuedOn:           p.IssuedOn,
		DueOn:              p.DueOn,
		TaxAmount:          p.TaxAmount,
		InterestAmount:     p.InterestAmount,
		PenaltyAmount:      p.PenaltyAmount,
		TaxApplicable:      p.TaxApplicable,
		InterestApplicable: p.InterestApplicable,
		PenaltyApplicable:  p.PenaltyApplicable,
		Status:             "received",
		WorkflowStep:       "notice",
		IsOriginal:         p.IsOriginal,
		DocumentIDs:        p.DocumentIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.InstanceID != "" {
		instID := p.InstanceID
		n.InstanceID = &instID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageNotice{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNoticeTx(ctx, tx, n); err != nil {
		return domain.StageNotice{}, err
	}
	if err := e.Events.Append(ctx, tx, "notice.created", p.CaseID, "notice", n.ID, p.ActorID, events.EventPayload{
		"type":         n.Type,
		"number":       n.Number,
		"total_demand": n.TotalDemand(),
	}); err != nil {
		return domain.StageNotice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageNotice{}, err
	}
	return n, nil
}

// UpdateNoticeParams uses pointers so absent fields stay untouched.
type UpdateNoticeParams struct {
	NoticeID           string
	InstanceID         *string
	Number             *string
	IssuedOn           *string
	DueOn              *string
	TaxAmount          *int64
	InterestAmount     *int64
	PenaltyAmount      *int64
	TaxApplicable      *bool
	InterestApplicable *bool
	PenaltyApplicable  *bool
	Status             *string
	WorkflowStep       *string
	DocumentIDs        []string
	ActorID            string
}

func (e *Engine) UpdateNotice(ctx context.Context, p UpdateNoticeParams) (domain.StageNotice, error) {
	if p.ActorID == "" {
		return domain.StageNotice{}, validationf("actor_id is required")
	}
	n, err := e.Repo.GetNotice(ctx, p.NoticeID)
	if err != nil {
		return domain.StageNotice{}, err
	}
	if p.InstanceID != nil {
		if *p.InstanceID == "" {
			n.InstanceID = nil
		} else {
			inst, err := e.Repo.GetInstance(ctx, *p.InstanceID)
			if err != nil {
				return domain.StageNotice{}, err
			}
			if inst.CaseID != n.CaseID {
				return domain.StageNotice{}, validationf("instance %s does not belong to this case", *p.InstanceID)
			}
			n.InstanceID = p.InstanceID
		}
	}
	if p.Number != nil {
		n.Number = *p.Number
	}
	if p.IssuedOn != nil {
		n.IssuedOn = *p.IssuedOn
	}
	if p.DueOn != nil {
		n.DueOn = *p.DueOn
	}
	if p.TaxAmount != nil {
		n.TaxAmount = *p.TaxAmount
	}
	if p.InterestAmount != nil {
		n.InterestAmount = *p.InterestAmount
	}
	if p.PenaltyAmount != nil {
		n.PenaltyAmount = *p.PenaltyAmount
	}
	if p.TaxApplicable != nil {
		n.TaxApplicable = *p.TaxApplicable
	}
	if p.InterestApplicable != nil {
		n.InterestApplicable = *p.InterestApplicable
	}
	if p.PenaltyApplicable != nil {
		n.PenaltyApplicable = *p.PenaltyApplicable
	}
	if p.Status != nil {
		switch *p.Status {
		case "received", "reply_pending", "replied", "closed":
			n.Status = *p.Status
		default:
			return domain.StageNotice{}, validationf("unknown notice status %q", *p.Status)
		}
	}
	if p.WorkflowStep != nil {
		switch *p.WorkflowStep {
		case "notice", "reply", "hearing", "closed":
			n.WorkflowStep = *p.WorkflowStep
		default:
			return domain.StageNotice{}, validationf("unknown workflow step %q", *p.WorkflowStep)
		}
	}
	if p.DocumentIDs != nil {
		n.DocumentIDs = p.DocumentIDs
	}
	n.UpdatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageNotice{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateNoticeTx(ctx, tx, n); err != nil {
		return domain.StageNotice{}, err
	}
	if err := e.Events.Append(ctx, tx, "notice.updated", n.CaseID, "notice", n.ID, p.ActorID, nil); err != nil {
		return domain.StageNotice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageNotice{}, err
	}
	return n, nil
}

// DeleteNotice removes a notice. Draft replies go with it; a filed or
// acknowledged reply blocks deletion with Conflict.
func (e *Engine) DeleteNotice(ctx context.Context, noticeID, actorID string) error {
	if actorID == "" {
		return validationf("actor_id is required")
	}
	n, err := e.Repo.GetNotice(ctx, noticeID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	filed, err := e.Repo.CountNonDraftRepliesTx(ctx, tx, noticeID)
	if err != nil {
		return err
	}
	if filed > 0 {
		return conflictf("notice %s has %d filed reply(ies)", n.Number, filed)
	}
	if err := e.Repo.DeleteDraftRepliesTx(ctx, tx, noticeID); err != nil {
		return err
	}
	if err := e.Repo.DeleteNoticeTx(ctx, tx, noticeID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "notice.deleted", n.CaseID, "notice", n.ID, actorID, events.EventPayload{
		"number": n.Number,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplyParams carries inputs for creating a reply to a notice.
type ReplyParams struct {
	NoticeID    string
	FiledOn     string
	Reference   string
	FilingMode  string
	Notes       string
	DocumentIDs []string
	ActorID     string
}

func (e *Engine) CreateReply(ctx context.Context, p ReplyParams) (domain.StageReply, error) {
	if p.ActorID == "" {
		return domain.StageReply{}, validationf("actor_id is required")
	}
	n, err := e.Repo.GetNotice(ctx, p.NoticeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.StageReply{}, validationf("notice %s does not exist", p.NoticeID)
		}
		return domain.StageReply{}, err
	}
	if p.FilingMode != "" {
		switch p.FilingMode {
		case "portal", "physical", "email":
		default:
			return domain.StageReply{}, validationf("unknown filing mode %q", p.FilingMode)
		}
	}
	now := e.now()
	rp := domain.StageReply{
		ID:           newID(),
		NoticeID:     n.ID,
		CaseID:       n.CaseID,
		InstanceID:   n.InstanceID,
		FiledOn:      p.FiledOn,
		Reference:    p.Reference,
		FilingStatus: "draft",
		FilingMode:   p.FilingMode,
		DocumentIDs:  p.DocumentIDs,
		Notes:        p.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageReply{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReplyTx(ctx, tx, rp); err != nil {
		return domain.StageReply{}, err
	}
	if n.Status == "received" {
		n.Status = "reply_pending"
		n.UpdatedAt = now
		if err := e.Repo.UpdateNoticeTx(ctx, tx, n); err != nil {
			return domain.StageReply{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "reply.created", n.CaseID, "reply", rp.ID, p.ActorID, events.EventPayload{
		"notice_id": n.ID,
	}); err != nil {
		return domain.StageReply{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageReply{}, err
	}
	return rp, nil
}

// UpdateReplyParams uses pointers so absent fields stay untouched.
type UpdateReplyParams struct {
	ReplyID      string
	FiledOn      *string
	Reference    *string
	FilingStatus *string
	FilingMode   *string
	Notes        *string
	DocumentIDs  []string
	ActorID      string
}

func (e *Engine) UpdateReply(ctx context.Context, p UpdateReplyParams) (domain.StageReply, error) {
	if p.ActorID == "" {
		return domain.StageReply{}, validationf("actor_id is required")
	}
	rp, err := e.Repo.GetReply(ctx, p.ReplyID)
	if err != nil {
		return domain.StageReply{}, err
	}
	filedNow := false
	if p.FiledOn != nil {
		rp.FiledOn = *p.FiledOn
	}
	if p.Reference != nil {
		rp.Reference = *p.Reference
	}
	if p.FilingStatus != nil {
		switch *p.FilingStatus {
		case "draft", "filed", "acknowledged":
		default:
			return domain.StageReply{}, validationf("unknown filing status %q", *p.FilingStatus)
		}
		if rp.FilingStatus == "draft" && *p.FilingStatus != "draft" {
			filedNow = true
		}
		if rp.FilingStatus != "draft" && *p.FilingStatus == "draft" {
			return domain.StageReply{}, invalidStatef("a filed reply cannot return to draft")
		}
		rp.FilingStatus = *p.FilingStatus
	}
	if p.FilingMode != nil {
		switch *p.FilingMode {
		case "", "portal", "physical", "email":
		default:
			return domain.StageReply{}, validationf("unknown filing mode %q", *p.FilingMode)
		}
		rp.FilingMode = *p.FilingMode
	}
	if p.Notes != nil {
		rp.Notes = *p.Notes
	}
	if p.DocumentIDs != nil {
		rp.DocumentIDs = p.DocumentIDs
	}
	now := e.now()
	rp.UpdatedAt = now
	if filedNow {
		rp.FiledBy = p.ActorID
		if rp.FiledOn == "" {
			rp.FiledOn = now
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageReply{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReplyTx(ctx, tx, rp); err != nil {
		return domain.StageReply{}, err
	}
	if filedNow {
		n, err := e.Repo.GetNoticeTx(ctx, tx, rp.NoticeID)
		if err != nil {
			return domain.StageReply{}, err
		}
		n.Status = "replied"
		n.WorkflowStep = "reply"
		n.UpdatedAt = now
		if err := e.Repo.UpdateNoticeTx(ctx, tx, n); err != nil {
			return domain.StageReply{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "reply.updated", rp.CaseID, "reply", rp.ID, p.ActorID, events.EventPayload{
		"filing_status": rp.FilingStatus,
	}); err != nil {
		return domain.StageReply{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageReply{}, err
	}
	return rp, nil
}

// DeleteReply removes a draft reply. Filed replies are part of the legal
// record and cannot be deleted.
func (e *Engine) DeleteReply(ctx context.Context, replyID, actorID string) error {
	if actorID == "" {
		return validationf("actor_id is required")
	}
	rp, err := e.Repo.GetReply(ctx, replyID)
	if err != nil {
		return err
	}
	if rp.FilingStatus != "draft" {
		return conflictf("reply %s is %s and cannot be deleted", replyID, rp.FilingStatus)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDraftReplyTx(ctx, tx, replyID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "reply.deleted", rp.CaseID, "reply", rp.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// HearingParams carries inputs for recording a hearing.
type HearingParams struct {
	CaseID      string
	InstanceID  string
	ScheduledOn string
	HeldOn      string
	Outcome     string
	Notes       string
	ActorID     string
}

func (e *Engine) RecordHearing(ctx context.Context, p HearingParams) (domain.Hearing, error) {
	if p.ActorID == "" {
		return domain.Hearing{}, validationf("actor_id is required")
	}
	if _, err := e.Repo.GetCase(ctx, p.CaseID); err != nil {
		return domain.Hearing{}, err
	}
	if p.InstanceID != "" {
		inst, err := e.Repo.GetInstance(ctx, p.InstanceID)
		if err != nil {
			return domain.Hearing{}, err
		}
		if inst.CaseID != p.CaseID {
			return domain.Hearing{}, validationf("instance %s does not belong to this case", p.InstanceID)
		}
	}
	h := domain.Hearing{
		ID:          newID(),
		CaseID:      p.CaseID,
		ScheduledOn: p.ScheduledOn,
		HeldOn:      p.HeldOn,
		Outcome:     p.Outcome,
		Notes:       p.Notes,
		CreatedAt:   e.now(),
	}
	if p.InstanceID != "" {
		instID := p.InstanceID
		h.InstanceID = &instID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Hearing{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertHearingTx(ctx, tx, h); err != nil {
		return domain.Hearing{}, err
	}
	if err := e.Events.Append(ctx, tx, "hearing.recorded", p.CaseID, "hearing", h.ID, p.ActorID, events.EventPayload{
		"held_on": p.HeldOn,
	}); err != nil {
		return domain.Hearing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Hearing{}, err
	}
	return h, nil
}

// UpdateHearingParams uses pointers so absent fields stay untouched.
type UpdateHearingParams struct {
	HearingID   string
	ScheduledOn *string
	HeldOn      *string
	Outcome     *string
	Notes       *string
	ActorID     string
}

func (e *Engine) UpdateHearing(ctx context.Context, p UpdateHearingParams) (domain.Hearing, error) {
	if p.ActorID == "" {
		return domain.Hearing{}, validationf("actor_id is required")
	}
	h, err := e.Repo.GetHearing(ctx, p.HearingID)
	if err != nil {
		return domain.Hearing{}, err
	}
	if p.ScheduledOn != nil {
		h.ScheduledOn = *p.ScheduledOn
	}
	if p.HeldOn != nil {
		h.HeldOn = *p.HeldOn
	}
	if p.Outcome != nil {
		h.Outcome = *p.Outcome
	}
	if p.Notes != nil {
		h.Notes = *p.Notes
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Hearing{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateHearingTx(ctx, tx, h); err != nil {
		return domain.Hearing{}, err
	}
	if err := e.Events.Append(ctx, tx, "hearing.updated", h.CaseID, "hearing", h.ID, p.ActorID, nil); err != nil {
		return domain.Hearing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Hearing{}, err
	}
	return h, nil
}

// AddDocument records a document reference on the case.
func (e *Engine) AddDocument(ctx context.Context, caseID, kind, name, uri, actorID string) (domain.Document, error) {
	if actorID == "" {
		return domain.Document{}, validationf("actor_id is required")
	}
	if kind == "" || name == "" {
		return domain.Document{}, validationf("document kind and name are required")
	}
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:        newID(),
		CaseID:    caseID,
		Kind:      kind,
		Name:      name,
		URI:       uri,
		CreatedAt: e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.added", caseID, "document", d.ID, actorID, events.EventPayload{
		"kind": kind,
		"name": name,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}
