package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/repo"
)

// ResolveFirmAndConfig picks the active firm and ensures a firm + config
// exist in DB, seeding defaults when missing. It prefers the override, then a
// single-firm DB. A firm that does not exist yet is created on the fly.
func ResolveFirmAndConfig(ctx context.Context, firmOverride, actorID string, r *repo.Repo) (string, *config.Config, error) {
	firmID := firmOverride
	if firmID == "" {
		if f, err := r.SingleFirm(ctx); err == nil {
			firmID = f.ID
		} else {
			return "", nil, fmt.Errorf("firm not specified; use --firm")
		}
	}
	if _, err := r.GetFirm(ctx, firmID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createFirm(ctx, r, firmID, actorID); err != nil {
			return "", nil, err
		}
	}
	raw, err := r.GetFirmConfig(ctx, firmID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		raw = config.GenerateDefault(firmID)
		now := time.Now().UTC().Format(time.RFC3339)
		if err := r.SaveFirmConfig(ctx, firmID, raw, now); err != nil {
			return "", nil, fmt.Errorf("seed firm config: %w", err)
		}
	}
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		return "", nil, fmt.Errorf("firm config: %w", err)
	}
	cfg.Firm.ID = firmID
	return firmID, cfg, nil
}

// SaveConfig validates and stores a firm's config.
func SaveConfig(ctx context.Context, firmID string, cfg *config.Config, r *repo.Repo) error {
	cfg.Firm.ID = firmID
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return r.SaveFirmConfig(ctx, firmID, string(raw), now)
}

// createFirm inserts a minimal firm footprint with a seed config. The
// bootstrapping actor gets the partner role so approvals work out of the box.
func createFirm(ctx context.Context, r *repo.Repo, firmID, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	f := domain.Firm{ID: firmID, Name: firmID, CreatedAt: now}
	if err := r.CreateFirm(ctx, f); err != nil {
		return fmt.Errorf("create firm: %w", err)
	}
	if err := r.SaveFirmConfig(ctx, firmID, config.GenerateDefault(firmID), now); err != nil {
		return fmt.Errorf("seed firm config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := r.AssignRole(ctx, firmID, actorID, "partner"); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}
