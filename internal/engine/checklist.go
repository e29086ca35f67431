package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
)

// DocumentStore answers whether a case holds a document of a given kind.
// The default is the repo's documents table; callers can plug an external DMS.
type DocumentStore interface {
	Exists(ctx context.Context, caseID, kind string) (bool, error)
}

// HearingSource counts hearings held for a stage instance.
type HearingSource interface {
	Count(ctx context.Context, instanceID string) (int, error)
}

type repoDocumentStore struct{ r *repo.Repo }

func (s repoDocumentStore) Exists(ctx context.Context, caseID, kind string) (bool, error) {
	return s.r.HasDocument(ctx, caseID, kind)
}

type repoHearingSource struct{ r *repo.Repo }

func (s repoHearingSource) Count(ctx context.Context, instanceID string) (int, error) {
	return s.r.CountHeldHearings(ctx, instanceID)
}

func (e *Engine) docs() DocumentStore {
	if e.Docs != nil {
		return e.Docs
	}
	return repoDocumentStore{r: e.Repo}
}

func (e *Engine) hearings() HearingSource {
	if e.Hearings != nil {
		return e.Hearings
	}
	return repoHearingSource{r: e.Repo}
}

// Evaluate recomputes every auto-rule item on the instance's checklist and
// persists status changes. Attested and overridden items are never touched.
func (e *Engine) Evaluate(ctx context.Context, instanceID string) ([]domain.ChecklistItem, error) {
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != "active" {
		// settled instances keep their recorded checklist as-is
		return e.Repo.ListChecklistItems(ctx, instanceID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	items, err := e.evaluateTx(ctx, tx, inst)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func (e *Engine) evaluateTx(ctx context.Context, tx *sql.Tx, inst domain.StageInstance) ([]domain.ChecklistItem, error) {
	items, err := e.Repo.ListChecklistItemsTx(ctx, tx, inst.ID)
	if err != nil {
		return nil, err
	}
	for i, ci := range items {
		if ci.RuleType == "manual" {
			continue
		}
		if ci.Status != "pending" && ci.Status != "auto_ok" {
			continue
		}
		ok := e.evalRule(ctx, inst, ci)
		status := "pending"
		if ok {
			status = "auto_ok"
		}
		if status == ci.Status {
			continue
		}
		ci.Status = status
		if err := e.Repo.UpdateChecklistItemTx(ctx, tx, ci); err != nil {
			return nil, err
		}
		items[i] = ci
	}
	return items, nil
}

// evalRule computes an auto rule. Lookup failures degrade the item to
// not-satisfied rather than failing the whole evaluation.
func (e *Engine) evalRule(ctx context.Context, inst domain.StageInstance, ci domain.ChecklistItem) bool {
	switch ci.RuleType {
	case "auto_dms":
		ok, err := e.docs().Exists(ctx, inst.CaseID, ci.RuleParam)
		return err == nil && ok
	case "auto_hearing":
		min := 1
		if ci.RuleParam != "" {
			if n, err := strconv.Atoi(ci.RuleParam); err == nil {
				min = n
			}
		}
		count, err := e.hearings().Count(ctx, inst.ID)
		return err == nil && count >= min
	case "auto_field":
		ok, err := e.evalField(ctx, inst, ci.RuleParam)
		return err == nil && ok
	}
	return false
}

func (e *Engine) evalField(ctx context.Context, inst domain.StageInstance, param string) (bool, error) {
	switch param {
	case "case.title", "case.number":
		c, err := e.Repo.GetCase(ctx, inst.CaseID)
		if err != nil {
			return false, err
		}
		if param == "case.title" {
			return c.Title != "", nil
		}
		return c.CaseNumber != "", nil
	case "notice.number", "notice.issued_on", "notice.due_on":
		notices, err := e.Repo.ListNoticesByInstance(ctx, inst.ID)
		if err != nil {
			return false, err
		}
		if len(notices) == 0 {
			notices, err = e.Repo.ListNotices(ctx, inst.CaseID)
			if err != nil {
				return false, err
			}
		}
		for _, n := range notices {
			var v string
			switch param {
			case "notice.number":
				v = n.Number
			case "notice.issued_on":
				v = n.IssuedOn
			case "notice.due_on":
				v = n.DueOn
			}
			if v != "" {
				return true, nil
			}
		}
		return false, nil
	case "reply.reference":
		replies, err := e.Repo.ListReplies(ctx, inst.CaseID)
		if err != nil {
			return false, err
		}
		for _, rp := range replies {
			if rp.Reference != "" && rp.FilingStatus != "draft" {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown field param %s", param)
}

// Attest marks a checklist item satisfied by a human. Manual items always
// accept it; rule-driven items accept it while the rule has not fired.
func (e *Engine) Attest(ctx context.Context, instanceID, itemKey, actorID, note, evidenceID string) (domain.ChecklistItem, error) {
	return e.settleItem(ctx, instanceID, itemKey, actorID, note, evidenceID, false)
}

// Override marks any checklist item satisfied despite its rule not holding.
// A justification note is mandatory.
func (e *Engine) Override(ctx context.Context, instanceID, itemKey, actorID, note string) (domain.ChecklistItem, error) {
	if note == "" {
		return domain.ChecklistItem{}, validationf("override requires a justification note")
	}
	return e.settleItem(ctx, instanceID, itemKey, actorID, note, "", true)
}

func (e *Engine) settleItem(ctx context.Context, instanceID, itemKey, actorID, note, evidenceID string, override bool) (domain.ChecklistItem, error) {
	if actorID == "" {
		return domain.ChecklistItem{}, validationf("actor_id is required")
	}
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if inst.Status != "active" {
		return domain.ChecklistItem{}, invalidStatef("stage %s cycle %d is %s", inst.StageKey, inst.CycleNo, inst.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	ci, err := e.Repo.GetChecklistItemTx(ctx, tx, instanceID, itemKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChecklistItem{}, validationf("no checklist item %q on this stage", itemKey)
		}
		return domain.ChecklistItem{}, err
	}
	evtType := "checklist.attested"
	if override {
		ci.Status = "override"
		evtType = "checklist.overridden"
	} else {
		// rule-driven items take an attestation only while their rule has not
		// fired; a satisfied auto item needs no human sign-off
		if ci.RuleType != "manual" && ci.Status == "auto_ok" {
			return domain.ChecklistItem{}, invalidStatef("item %s is already satisfied by its rule", itemKey)
		}
		ci.Status = "attested"
	}
	now := e.now()
	ci.AttestedBy = &actorID
	ci.AttestedAt = &now
	ci.Note = note
	if evidenceID != "" {
		ci.EvidenceID = &evidenceID
	}
	if err := e.Repo.UpdateChecklistItemTx(ctx, tx, ci); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, inst.CaseID, "checklist_item", ci.ID, actorID, events.EventPayload{
		"stage_key": inst.StageKey,
		"item_key":  itemKey,
		"note":      note,
	}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	return ci, nil
}

// BlockingReasons lists required items that are not yet satisfied.
func BlockingReasons(items []domain.ChecklistItem) []string {
	var reasons []string
	for _, ci := range items {
		if !ci.Required {
			continue
		}
		switch ci.Status {
		case "auto_ok", "attested", "override":
		default:
			reasons = append(reasons, fmt.Sprintf("%s: %s", ci.ItemKey, ci.Label))
		}
	}
	return reasons
}
