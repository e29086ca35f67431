package repo

import (
	"context"
	"database/sql"
	"errors"

	"stageline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Repo provides data access over sqlite.
type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullablePtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func strOf(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func ptrOf(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Firms

func (r *Repo) CreateFirm(ctx context.Context, f domain.Firm) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO firms (id, name, created_at) VALUES (?, ?, ?)`,
		f.ID, f.Name, f.CreatedAt)
	return err
}

func (r *Repo) GetFirm(ctx context.Context, id string) (domain.Firm, error) {
	var f domain.Firm
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM firms WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Firm{}, ErrNotFound
	}
	return f, err
}

func (r *Repo) ListFirms(ctx context.Context) ([]domain.Firm, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, created_at FROM firms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Firm
	for rows.Next() {
		var f domain.Firm
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repo) SaveFirmConfig(ctx context.Context, firmID, configYAML, now string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO firm_configs (firm_id, config_yaml, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(firm_id) DO UPDATE SET config_yaml = excluded.config_yaml, updated_at = excluded.updated_at`,
		firmID, configYAML, now, now)
	return err
}

func (r *Repo) GetFirmConfig(ctx context.Context, firmID string) (string, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx,
		`SELECT config_yaml FROM firm_configs WHERE firm_id = ?`, firmID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return raw, err
}

// SingleFirm returns the firm when exactly one exists.
func (r *Repo) SingleFirm(ctx context.Context) (domain.Firm, error) {
	firms, err := r.ListFirms(ctx)
	if err != nil {
		return domain.Firm{}, err
	}
	if len(firms) != 1 {
		return domain.Firm{}, ErrNotFound
	}
	return firms[0], nil
}

// Cases

const caseCols = `id, firm_id, case_number, title, status, description, assigned_to_id, opened_at, updated_at, closed_at`

func scanCase(row interface{ Scan(...any) error }) (domain.Case, error) {
	var c domain.Case
	var title, description, assignedTo, closedAt sql.NullString
	err := row.Scan(&c.ID, &c.FirmID, &c.CaseNumber, &title, &c.Status,
		&description, &assignedTo, &c.OpenedAt, &c.UpdatedAt, &closedAt)
	if err != nil {
		return domain.Case{}, err
	}
	c.Title = strOf(title)
	c.Description = strOf(description)
	c.AssignedToID = ptrOf(assignedTo)
	c.ClosedAt = ptrOf(closedAt)
	return c, nil
}

func (r *Repo) CreateCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	return createCase(ctx, tx, c)
}

func createCase(ctx context.Context, q dbtx, c domain.Case) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cases (`+caseCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FirmID, c.CaseNumber, nullable(c.Title), c.Status,
		nullable(c.Description), nullablePtr(c.AssignedToID),
		c.OpenedAt, c.UpdatedAt, nullablePtr(c.ClosedAt))
	return err
}

func (r *Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCase(ctx, r.DB, id)
}

func (r *Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return getCase(ctx, tx, id)
}

func getCase(ctx context.Context, q dbtx, id string) (domain.Case, error) {
	c, err := scanCase(q.QueryRowContext(ctx,
		`SELECT `+caseCols+` FROM cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Case{}, ErrNotFound
	}
	return c, err
}

func (r *Repo) GetCaseByNumber(ctx context.Context, firmID, caseNumber string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx,
		`SELECT `+caseCols+` FROM cases WHERE firm_id = ? AND case_number = ?`, firmID, caseNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Case{}, ErrNotFound
	}
	return c, err
}

func (r *Repo) ListCases(ctx context.Context, firmID, status string) ([]domain.Case, error) {
	query := `SELECT ` + caseCols + ` FROM cases WHERE firm_id = ?`
	args := []any{firmID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY opened_at`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateCase(ctx context.Context, c domain.Case) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE cases SET title = ?, status = ?, description = ?, assigned_to_id = ?, updated_at = ?, closed_at = ?
		WHERE id = ?`,
		nullable(c.Title), c.Status, nullable(c.Description),
		nullablePtr(c.AssignedToID), c.UpdatedAt, nullablePtr(c.ClosedAt), c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r *Repo) SetCaseStatusTx(ctx context.Context, tx *sql.Tx, id, status, now string, closedAt *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE cases SET status = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
		status, now, nullablePtr(closedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Stage instances

const instanceCols = `id, case_id, stage_key, cycle_no, status, started_at, ended_at`

func scanInstance(row interface{ Scan(...any) error }) (domain.StageInstance, error) {
	var si domain.StageInstance
	var endedAt sql.NullString
	err := row.Scan(&si.ID, &si.CaseID, &si.StageKey, &si.CycleNo, &si.Status, &si.StartedAt, &endedAt)
	if err != nil {
		return domain.StageInstance{}, err
	}
	si.EndedAt = ptrOf(endedAt)
	return si, nil
}

func (r *Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, si domain.StageInstance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stage_instances (`+instanceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		si.ID, si.CaseID, si.StageKey, si.CycleNo, si.Status, si.StartedAt, nullablePtr(si.EndedAt))
	return err
}

func (r *Repo) GetInstance(ctx context.Context, id string) (domain.StageInstance, error) {
	return getInstance(ctx, r.DB, id)
}

func (r *Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.StageInstance, error) {
	return getInstance(ctx, tx, id)
}

func getInstance(ctx context.Context, q dbtx, id string) (domain.StageInstance, error) {
	si, err := scanInstance(q.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM stage_instances WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageInstance{}, ErrNotFound
	}
	return si, err
}

func (r *Repo) GetActiveInstance(ctx context.Context, caseID string) (domain.StageInstance, error) {
	return getActiveInstance(ctx, r.DB, caseID)
}

func (r *Repo) GetActiveInstanceTx(ctx context.Context, tx *sql.Tx, caseID string) (domain.StageInstance, error) {
	return getActiveInstance(ctx, tx, caseID)
}

func getActiveInstance(ctx context.Context, q dbtx, caseID string) (domain.StageInstance, error) {
	si, err := scanInstance(q.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM stage_instances WHERE case_id = ? AND status = 'active'`, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageInstance{}, ErrNotFound
	}
	return si, err
}

func (r *Repo) ListInstances(ctx context.Context, caseID string) ([]domain.StageInstance, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+instanceCols+` FROM stage_instances WHERE case_id = ? ORDER BY started_at, rowid`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StageInstance
	for rows.Next() {
		si, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// NextCycleNoTx returns the next cycle number for a case/stage pair.
// Superseded instances keep their cycle rows, so numbering never reuses
// a cycle even after a rejected transition.
func (r *Repo) NextCycleNoTx(ctx context.Context, tx *sql.Tx, caseID, stageKey string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(cycle_no), 0) + 1 FROM stage_instances WHERE case_id = ? AND stage_key = ?`,
		caseID, stageKey).Scan(&n)
	return n, err
}

// CloseInstanceIfActiveTx conditionally ends an instance. Returns false when
// the instance was not active, which callers treat as a lost race.
func (r *Repo) CloseInstanceIfActiveTx(ctx context.Context, tx *sql.Tx, id, status, endedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE stage_instances SET status = ?, ended_at = ? WHERE id = ? AND status = 'active'`,
		status, endedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SupersedeInstanceIfActiveTx marks a not-yet-settled instance superseded.
func (r *Repo) SupersedeInstanceIfActiveTx(ctx context.Context, tx *sql.Tx, id, endedAt string) (bool, error) {
	return r.CloseInstanceIfActiveTx(ctx, tx, id, "superseded", endedAt)
}

// ReactivateInstanceTx restores an instance to active with no end timestamp.
func (r *Repo) ReactivateInstanceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE stage_instances SET status = 'active', ended_at = NULL WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Stage transitions

const transitionCols = `id, case_id, from_instance_id, to_instance_id, type, reason_code, reason,
	order_no, order_date, order_document_id, comments, requires_approval, is_confirmed, actor_id, created_at`

func scanTransition(row interface{ Scan(...any) error }) (domain.StageTransition, error) {
	var t domain.StageTransition
	var fromID, reasonCode, reason, orderNo, orderDate, orderDocID, comments sql.NullString
	err := row.Scan(&t.ID, &t.CaseID, &fromID, &t.ToInstanceID, &t.Type, &reasonCode, &reason,
		&orderNo, &orderDate, &orderDocID, &comments, &t.RequiresApproval, &t.IsConfirmed, &t.ActorID, &t.CreatedAt)
	if err != nil {
		return domain.StageTransition{}, err
	}
	t.FromInstanceID = ptrOf(fromID)
	t.ReasonCode = strOf(reasonCode)
	t.Reason = strOf(reason)
	t.OrderNo = strOf(orderNo)
	t.OrderDate = strOf(orderDate)
	t.OrderDocumentID = ptrOf(orderDocID)
	t.Comments = strOf(comments)
	return t, nil
}

func (r *Repo) InsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.StageTransition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stage_transitions (id, case_id, from_instance_id, to_instance_id, type, reason_code, reason,
			order_no, order_date, order_document_id, comments, requires_approval, is_confirmed, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CaseID, nullablePtr(t.FromInstanceID), t.ToInstanceID, t.Type,
		nullable(t.ReasonCode), nullable(t.Reason),
		nullable(t.OrderNo), nullable(t.OrderDate), nullablePtr(t.OrderDocumentID),
		nullable(t.Comments), t.RequiresApproval, t.IsConfirmed, t.ActorID, t.CreatedAt)
	return err
}

func (r *Repo) GetTransition(ctx context.Context, id string) (domain.StageTransition, error) {
	return getTransition(ctx, r.DB, id)
}

func (r *Repo) GetTransitionTx(ctx context.Context, tx *sql.Tx, id string) (domain.StageTransition, error) {
	return getTransition(ctx, tx, id)
}

func getTransition(ctx context.Context, q dbtx, id string) (domain.StageTransition, error) {
	t, err := scanTransition(q.QueryRowContext(ctx,
		`SELECT `+transitionCols+` FROM stage_transitions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StageTransition{}, ErrNotFound
	}
	return t, err
}

func (r *Repo) ListTransitions(ctx context.Context, caseID string) ([]domain.StageTransition, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+transitionCols+` FROM stage_transitions WHERE case_id = ? ORDER BY created_at, rowid`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StageTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) SetTransitionConfirmedTx(ctx context.Context, tx *sql.Tx, id string, confirmed bool) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE stage_transitions SET is_confirmed = ? WHERE id = ?`, confirmed, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
