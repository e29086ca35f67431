package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"stageline/internal/domain"
)

func docsToJSON(ids []string) any {
	if len(ids) == 0 {
		return nil
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

func docsFromJSON(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(ns.String), &ids); err != nil {
		return nil
	}
	return ids
}

// Notices

const noticeCols = `id, case_id, instance_id, type, number, issued_on, due_on,
	tax_amount, interest_amount, penalty_amount, tax_applicable, interest_applicable, penalty_applicable,
	status, workflow_step, is_original, documents_json, created_at, updated_at`

func scanNotice(row interface{ Scan(...any) error }) (domain.StageNotice, error) {
	var n domain.StageNotice
	var instanceID, number, issuedOn, dueOn, docs sql.NullString
	err := row.Scan(&n.ID, &n.CaseID, &instanceID, &n.Type, &number, &issuedOn, &dueOn,
		&n.TaxAmount, &n.InterestAmount, &n.PenaltyAmount,
		&n.TaxApplicable, &n.InterestApplicable, &n.PenaltyApplicable,
		&n.Status, &n.WorkflowStep, &n.IsOriginal, &docs, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.StageNotice{}, err
	}
	n.InstanceID = ptrOf(instanceID)
	n.Number = strOf(number)
	n.IssuedOn = strOf(issuedOn)
	n.DueOn = strOf(dueOn)
	n.DocumentIDs = docsFromJSON(docs)
	return n, nil
}

func (r *Repo) InsertNoticeTx(ctx context.Context, tx *sql.Tx, n domain.StageNotice) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notices (id, case_id, instance_id, type, number, issued_on, due_on,
			tax_amount, interest_amount, penalty_amount, tax_applicable, interest_applicable, penalty_applicable,
			status, workflow_step, is_original, documents_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.CaseID, nullablePtr(n.InstanceID), n.Type, nullable(n.Number),
		nullable(n.IssuedOn), nullable(n.DueOn),
		n.TaxAmount, n.InterestAmount, n.PenaltyAmount,
		n.TaxApplicable, n.InterestApplicable, n.PenaltyApplicable,
		n.Status, n.WorkflowStep, n.IsOriginal, docsToJSON(n.DocumentIDs), n.CreatedAt, n.UpdatedAt)
	return err
}

func (r *Repo) GetNotice(ctx context.Context, id string) (domain.StageNotice, error) {
	return getNotice(ctx, r.DB, id)
}

func (r *Repo) GetNoticeTx(ctx context.Context, tx *sql.Tx, id string) (domain.StageNotice, error) {
	return getNotice(ctx, tx, id)
}

func getNotice(ctx context.Context, q dbtx, id string) (domain.StageNotice, error) {
	n, err := scanNotice(q.QueryRowContext(ctx,
		`SELECT `+noticeCols+` FROM notices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageNotice{}, ErrNotFound
	}
	return n, err
}

func (r *Repo) ListNotices(ctx context.Context, caseID string) ([]domain.StageNotice, error) {
	return listNotices(ctx, r.DB, `SELECT `+noticeCols+` FROM notices WHERE case_id = ? ORDER BY created_at, rowid`, caseID)
}

func (r *Repo) ListNoticesByInstance(ctx context.Context, instanceID string) ([]domain.StageNotice, error) {
	return listNotices(ctx, r.DB, `SELECT `+noticeCols+` FROM notices WHERE instance_id = ? ORDER BY created_at, rowid`, instanceID)
}

func listNotices(ctx context.Context, q dbtx, query string, arg any) ([]domain.StageNotice, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StageNotice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateNoticeTx(ctx context.Context, tx *sql.Tx, n domain.StageNotice) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE notices SET instance_id = ?, type = ?, number = ?, issued_on = ?, due_on = ?,
			tax_amount = ?, interest_amount = ?, penalty_amount = ?,
			tax_applicable = ?, interest_applicable = ?, penalty_applicable = ?,
			status = ?, workflow_step = ?, is_original = ?, documents_json = ?, updated_at = ?
		WHERE id = ?`,
		nullablePtr(n.InstanceID), n.Type, nullable(n.Number), nullable(n.IssuedOn), nullable(n.DueOn),
		n.TaxAmount, n.InterestAmount, n.PenaltyAmount,
		n.TaxApplicable, n.InterestApplicable, n.PenaltyApplicable,
		n.Status, n.WorkflowStep, n.IsOriginal, docsToJSON(n.DocumentIDs), n.UpdatedAt, n.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

func (r *Repo) DeleteNoticeTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM notices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// CountNonDraftRepliesTx counts replies on a notice that have left draft.
func (r *Repo) CountNonDraftRepliesTx(ctx context.Context, tx *sql.Tx, noticeID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM replies WHERE notice_id = ? AND filing_status != 'draft'`, noticeID).Scan(&n)
	return n, err
}

func (r *Repo) DeleteDraftRepliesTx(ctx context.Context, tx *sql.Tx, noticeID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM replies WHERE notice_id = ? AND filing_status = 'draft'`, noticeID)
	return err
}

// DeleteDraftReplyTx deletes a single reply, guarded so a filed reply
// can never be removed.
func (r *Repo) DeleteDraftReplyTx(ctx context.Context, tx *sql.Tx, replyID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM replies WHERE id = ? AND filing_status = 'draft'`, replyID)
	return err
}

// Replies

const replyCols = `id, notice_id, case_id, instance_id, filed_on, reference, filing_status, filing_mode,
	documents_json, notes, filed_by, created_at, updated_at`

func scanReply(row interface{ Scan(...any) error }) (domain.StageReply, error) {
	var rp domain.StageReply
	var instanceID, filedOn, reference, mode, docs, notes, filedBy sql.NullString
	err := row.Scan(&rp.ID, &rp.NoticeID, &rp.CaseID, &instanceID, &filedOn, &reference,
		&rp.FilingStatus, &mode, &docs, &notes, &filedBy, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return domain.StageReply{}, err
	}
	rp.InstanceID = ptrOf(instanceID)
	rp.FiledOn = strOf(filedOn)
	rp.Reference = strOf(reference)
	rp.FilingMode = strOf(mode)
	rp.DocumentIDs = docsFromJSON(docs)
	rp.Notes = strOf(notes)
	rp.FiledBy = strOf(filedBy)
	return rp, nil
}

func (r *Repo) InsertReplyTx(ctx context.Context, tx *sql.Tx, rp domain.StageReply) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO replies (id, notice_id, case_id, instance_id, filed_on, reference, filing_status, filing_mode,
			documents_json, notes, filed_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rp.ID, rp.NoticeID, rp.CaseID, nullablePtr(rp.InstanceID), nullable(rp.FiledOn), nullable(rp.Reference),
		rp.FilingStatus, nullable(rp.FilingMode), docsToJSON(rp.DocumentIDs),
		nullable(rp.Notes), nullable(rp.FiledBy), rp.CreatedAt, rp.UpdatedAt)
	return err
}

func (r *Repo) GetReply(ctx context.Context, id string) (domain.StageReply, error) {
	return getReply(ctx, r.DB, id)
}

func (r *Repo) GetReplyTx(ctx context.Context, tx *sql.Tx, id string) (domain.StageReply, error) {
	return getReply(ctx, tx, id)
}

func getReply(ctx context.Context, q dbtx, id string) (domain.StageReply, error) {
	rp, err := scanReply(q.QueryRowContext(ctx,
		`SELECT `+replyCols+` FROM replies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageReply{}, ErrNotFound
	}
	return rp, err
}

func (r *Repo) ListReplies(ctx context.Context, caseID string) ([]domain.StageReply, error) {
	return listReplies(ctx, r.DB, `SELECT `+replyCols+` FROM replies WHERE case_id = ? ORDER BY created_at, rowid`, caseID)
}

func (r *Repo) ListRepliesByNotice(ctx context.Context, noticeID string) ([]domain.StageReply, error) {
	return listReplies(ctx, r.DB, `SELECT `+replyCols+` FROM replies WHERE notice_id = ? ORDER BY created_at, rowid`, noticeID)
}

func listReplies(ctx context.Context, q dbtx, query string, arg any) ([]domain.StageReply, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StageReply
	for rows.Next() {
		rp, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateReplyTx(ctx context.Context, tx *sql.Tx, rp domain.StageReply) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE replies SET filed_on = ?, reference = ?, filing_status = ?, filing_mode = ?,
			documents_json = ?, notes = ?, filed_by = ?, updated_at = ?
		WHERE id = ?`,
		nullable(rp.FiledOn), nullable(rp.Reference), rp.FilingStatus, nullable(rp.FilingMode),
		docsToJSON(rp.DocumentIDs), nullable(rp.Notes), nullable(rp.FiledBy), rp.UpdatedAt, rp.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Hearings

const hearingCols = `id, case_id, instance_id, scheduled_on, held_on, outcome, notes, created_at`

func scanHearing(row interface{ Scan(...any) error }) (domain.Hearing, error) {
	var h domain.Hearing
	var instanceID, scheduledOn, heldOn, outcome, notes sql.NullString
	err := row.Scan(&h.ID, &h.CaseID, &instanceID, &scheduledOn, &heldOn, &outcome, &notes, &h.CreatedAt)
	if err != nil {
		return domain.Hearing{}, err
	}
	h.InstanceID = ptrOf(instanceID)
	h.ScheduledOn = strOf(scheduledOn)
	h.HeldOn = strOf(heldOn)
	h.Outcome = strOf(outcome)
	h.Notes = strOf(notes)
	return h, nil
}

func (r *Repo) InsertHearingTx(ctx context.Context, tx *sql.Tx, h domain.Hearing) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hearings (id, case_id, instance_id, scheduled_on, held_on, outcome, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CaseID, nullablePtr(h.InstanceID), nullable(h.ScheduledOn), nullable(h.HeldOn),
		nullable(h.Outcome), nullable(h.Notes), h.CreatedAt)
	return err
}

func (r *Repo) GetHearing(ctx context.Context, id string) (domain.Hearing, error) {
	h, err := scanHearing(r.DB.QueryRowContext(ctx,
		`SELECT `+hearingCols+` FROM hearings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Hearing{}, ErrNotFound
	}
	return h, err
}

func (r *Repo) ListHearings(ctx context.Context, caseID string) ([]domain.Hearing, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+hearingCols+` FROM hearings WHERE case_id = ? ORDER BY created_at, rowid`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Hearing
	for rows.Next() {
		h, err := scanHearing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateHearingTx(ctx context.Context, tx *sql.Tx, h domain.Hearing) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE hearings SET scheduled_on = ?, held_on = ?, outcome = ?, notes = ? WHERE id = ?`,
		nullable(h.ScheduledOn), nullable(h.HeldOn), nullable(h.Outcome), nullable(h.Notes), h.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// CountHeldHearings counts hearings attached to an instance with a held date.
func (r *Repo) CountHeldHearings(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hearings WHERE instance_id = ? AND held_on IS NOT NULL`, instanceID).Scan(&n)
	return n, err
}

// Documents

func (r *Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, case_id, kind, name, uri, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.CaseID, d.Kind, d.Name, nullable(d.URI), d.CreatedAt)
	return err
}

func (r *Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	var uri sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, case_id, kind, name, uri, created_at FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.CaseID, &d.Kind, &d.Name, &uri, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, ErrNotFound
	}
	d.URI = strOf(uri)
	return d, err
}

func (r *Repo) ListDocuments(ctx context.Context, caseID, kind string) ([]domain.Document, error) {
	query := `SELECT id, case_id, kind, name, uri, created_at FROM documents WHERE case_id = ?`
	args := []any{caseID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		var uri sql.NullString
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Kind, &d.Name, &uri, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.URI = strOf(uri)
		out = append(out, d)
	}
	return out, rows.Err()
}

// HasDocument reports whether the case holds at least one document of a kind.
func (r *Repo) HasDocument(ctx context.Context, caseID, kind string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE case_id = ? AND kind = ?`, caseID, kind).Scan(&n)
	return n > 0, err
}
