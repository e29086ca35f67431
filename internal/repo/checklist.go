package repo

import (
	"context"
	"database/sql"
	"errors"

	"stageline/internal/domain"
)

const checklistCols = `id, instance_id, item_key, label, required, rule_type, rule_param,
	status, attested_by, attested_at, note, evidence_id`

func scanChecklistItem(row interface{ Scan(...any) error }) (domain.ChecklistItem, error) {
	var ci domain.ChecklistItem
	var ruleParam, attestedBy, attestedAt, note, evidenceID sql.NullString
	err := row.Scan(&ci.ID, &ci.InstanceID, &ci.ItemKey, &ci.Label, &ci.Required, &ci.RuleType,
		&ruleParam, &ci.Status, &attestedBy, &attestedAt, &note, &evidenceID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	ci.RuleParam = strOf(ruleParam)
	ci.AttestedBy = ptrOf(attestedBy)
	ci.AttestedAt = ptrOf(attestedAt)
	ci.Note = strOf(note)
	ci.EvidenceID = ptrOf(evidenceID)
	return ci, nil
}

func (r *Repo) InsertChecklistItemTx(ctx context.Context, tx *sql.Tx, ci domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO checklist_items (id, instance_id, item_key, label, required, rule_type, rule_param,
			status, attested_by, attested_at, note, evidence_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ci.ID, ci.InstanceID, ci.ItemKey, ci.Label, ci.Required, ci.RuleType, nullable(ci.RuleParam),
		ci.Status, nullablePtr(ci.AttestedBy), nullablePtr(ci.AttestedAt), nullable(ci.Note), nullablePtr(ci.EvidenceID))
	return err
}

func (r *Repo) ListChecklistItems(ctx context.Context, instanceID string) ([]domain.ChecklistItem, error) {
	return listChecklistItems(ctx, r.DB, instanceID)
}

func (r *Repo) ListChecklistItemsTx(ctx context.Context, tx *sql.Tx, instanceID string) ([]domain.ChecklistItem, error) {
	return listChecklistItems(ctx, tx, instanceID)
}

func listChecklistItems(ctx context.Context, q dbtx, instanceID string) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+checklistCols+` FROM checklist_items WHERE instance_id = ? ORDER BY item_key`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ChecklistItem
	for rows.Next() {
		ci, err := scanChecklistItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (r *Repo) GetChecklistItemTx(ctx context.Context, tx *sql.Tx, instanceID, itemKey string) (domain.ChecklistItem, error) {
	ci, err := scanChecklistItem(tx.QueryRowContext(ctx,
		`SELECT `+checklistCols+` FROM checklist_items WHERE instance_id = ? AND item_key = ?`,
		instanceID, itemKey))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChecklistItem{}, ErrNotFound
	}
	return ci, err
}

func (r *Repo) UpdateChecklistItemTx(ctx context.Context, tx *sql.Tx, ci domain.ChecklistItem) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE checklist_items SET status = ?, attested_by = ?, attested_at = ?, note = ?, evidence_id = ?
		WHERE id = ?`,
		ci.Status, nullablePtr(ci.AttestedBy), nullablePtr(ci.AttestedAt),
		nullable(ci.Note), nullablePtr(ci.EvidenceID), ci.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Workflow steps

const stepCols = `id, instance_id, step_key, status, completed_by, completed_at, notes`

func scanStep(row interface{ Scan(...any) error }) (domain.StageWorkflowStep, error) {
	var ws domain.StageWorkflowStep
	var completedBy, completedAt, notes sql.NullString
	err := row.Scan(&ws.ID, &ws.InstanceID, &ws.StepKey, &ws.Status, &completedBy, &completedAt, &notes)
	if err != nil {
		return domain.StageWorkflowStep{}, err
	}
	ws.CompletedBy = ptrOf(completedBy)
	ws.CompletedAt = ptrOf(completedAt)
	ws.Notes = strOf(notes)
	return ws, nil
}

func (r *Repo) InsertWorkflowStepTx(ctx context.Context, tx *sql.Tx, ws domain.StageWorkflowStep) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, instance_id, step_key, status, completed_by, completed_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.InstanceID, ws.StepKey, ws.Status,
		nullablePtr(ws.CompletedBy), nullablePtr(ws.CompletedAt), nullable(ws.Notes))
	return err
}

func (r *Repo) ListWorkflowSteps(ctx context.Context, instanceID string) ([]domain.StageWorkflowStep, error) {
	return listWorkflowSteps(ctx, r.DB, instanceID)
}

func (r *Repo) ListWorkflowStepsTx(ctx context.Context, tx *sql.Tx, instanceID string) ([]domain.StageWorkflowStep, error) {
	return listWorkflowSteps(ctx, tx, instanceID)
}

func listWorkflowSteps(ctx context.Context, q dbtx, instanceID string) ([]domain.StageWorkflowStep, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stepCols+` FROM workflow_steps WHERE instance_id = ?`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StageWorkflowStep
	for rows.Next() {
		ws, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (r *Repo) GetWorkflowStepTx(ctx context.Context, tx *sql.Tx, instanceID, stepKey string) (domain.StageWorkflowStep, error) {
	ws, err := scanStep(tx.QueryRowContext(ctx,
		`SELECT `+stepCols+` FROM workflow_steps WHERE instance_id = ? AND step_key = ?`,
		instanceID, stepKey))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageWorkflowStep{}, ErrNotFound
	}
	return ws, err
}

func (r *Repo) UpdateWorkflowStepTx(ctx context.Context, tx *sql.Tx, ws domain.StageWorkflowStep) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_steps SET status = ?, completed_by = ?, completed_at = ?, notes = ?
		WHERE id = ?`,
		ws.Status, nullablePtr(ws.CompletedBy), nullablePtr(ws.CompletedAt), nullable(ws.Notes), ws.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
