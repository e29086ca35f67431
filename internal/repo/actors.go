package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"stageline/internal/domain"
)

func (r *Repo) EnsureActor(ctx context.Context, actorID, now string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO actors (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		actorID, now)
	return err
}

func (r *Repo) AssignRole(ctx context.Context, firmID, actorID, roleID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO actor_roles (firm_id, actor_id, role_id) VALUES (?, ?, ?)
		ON CONFLICT(firm_id, actor_id, role_id) DO NOTHING`,
		firmID, actorID, roleID)
	return err
}

func (r *Repo) RemoveRole(ctx context.Context, firmID, actorID, roleID string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM actor_roles WHERE firm_id = ? AND actor_id = ? AND role_id = ?`,
		firmID, actorID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r *Repo) ActorRoles(ctx context.Context, firmID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT role_id FROM actor_roles WHERE firm_id = ? AND actor_id = ? ORDER BY role_id`,
		firmID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// HashAPIKey returns the stored form of a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *Repo) CreateAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO api_keys (id, actor_id, name, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.ActorID, nullable(k.Name), k.KeyHash, k.CreatedAt)
	return err
}

func (r *Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, actor_id, name, key_hash, created_at FROM api_keys WHERE key_hash = ?`, hash).
		Scan(&k.ID, &k.ActorID, &name, &k.KeyHash, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	k.Name = strOf(name)
	return k, err
}

func (r *Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, actor_id, name, key_hash, created_at FROM api_keys WHERE actor_id = ? ORDER BY created_at`,
		actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		var name sql.NullString
		if err := rows.Scan(&k.ID, &k.ActorID, &name, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.Name = strOf(name)
		out = append(out, k)
	}
	return out, rows.Err()
}
