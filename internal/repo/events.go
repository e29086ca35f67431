package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

// ListEvents returns events after sinceID, oldest first. caseID and evtType
// filter when non-empty; limit <= 0 means no limit.
func (r *Repo) ListEvents(ctx context.Context, caseID, evtType string, sinceID int64, limit int) ([]domain.Event, error) {
	query := `SELECT id, ts, type, case_id, entity_kind, entity_id, actor_id, payload_json FROM events WHERE id > ?`
	args := []any{sinceID}
	if caseID != "" {
		query += ` AND case_id = ?`
		args = append(args, caseID)
	}
	if evtType != "" {
		query += ` AND type = ?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var caseID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &caseID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.CaseID = strOf(caseID)
		e.EntityID = strOf(entityID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEvents returns the newest n events, oldest first. caseID and evtType
// filter when non-empty.
func (r *Repo) LatestEvents(ctx context.Context, n int, caseID, evtType string) ([]domain.Event, error) {
	query := `SELECT id, ts, type, case_id, entity_kind, entity_id, actor_id, payload_json FROM events WHERE 1=1`
	var args []any
	if caseID != "" {
		query += ` AND case_id = ?`
		args = append(args, caseID)
	}
	if evtType != "" {
		query += ` AND type = ?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var caseID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &caseID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.CaseID = strOf(caseID)
		e.EntityID = strOf(entityID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LastEventID returns the highest event id, 0 when the log is empty.
func (r *Repo) LastEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
