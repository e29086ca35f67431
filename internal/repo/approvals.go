package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const approvalCols = `id, transition_id, action, actor_id, actor_role, comments, created_at`

func scanApproval(row interface{ Scan(...any) error }) (domain.TransitionApproval, error) {
	var a domain.TransitionApproval
	var role, comments sql.NullString
	err := row.Scan(&a.ID, &a.TransitionID, &a.Action, &a.ActorID, &role, &comments, &a.CreatedAt)
	if err != nil {
		return domain.TransitionApproval{}, err
	}
	a.ActorRole = strOf(role)
	a.Comments = strOf(comments)
	return a, nil
}

func (r *Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.TransitionApproval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transition_approvals (id, transition_id, action, actor_id, actor_role, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TransitionID, a.Action, a.ActorID, nullable(a.ActorRole), nullable(a.Comments), a.CreatedAt)
	return err
}

func (r *Repo) ListApprovals(ctx context.Context, transitionID string) ([]domain.TransitionApproval, error) {
	return listApprovals(ctx, r.DB, transitionID)
}

// ListApprovalsTx reads the approval thread inside the caller's transaction,
// which serializes concurrent decisions on the same transition.
func (r *Repo) ListApprovalsTx(ctx context.Context, tx *sql.Tx, transitionID string) ([]domain.TransitionApproval, error) {
	return listApprovals(ctx, tx, transitionID)
}

func listApprovals(ctx context.Context, q dbtx, transitionID string) ([]domain.TransitionApproval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+approvalCols+` FROM transition_approvals WHERE transition_id = ? ORDER BY created_at, rowid`,
		transitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TransitionApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
