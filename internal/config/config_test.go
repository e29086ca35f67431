package config_test

import (
	"strings"
	"testing"

	"stageline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default("firm-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Firm.ID != "firm-1" {
		t.Fatalf("expected firm id set, got %q", cfg.Firm.ID)
	}
	if cfg.FirstStage() != "assessment" {
		t.Fatalf("expected assessment first, got %s", cfg.FirstStage())
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing firm id", func(c *config.Config) { c.Firm.ID = "" }, "firm.id"},
		{"wrong kind", func(c *config.Config) { c.Firm.Kind = "accounting" }, "law-practice"},
		{"no stages", func(c *config.Config) { c.Stages = nil }, "stages"},
		{"duplicate stage", func(c *config.Config) {
			c.Stages = append(c.Stages, c.Stages[0])
		}, "duplicate stage"},
		{"bad auto_field param", func(c *config.Config) {
			c.Stages[0].Checklist[0].Rule = config.RuleAutoField
			c.Stages[0].Checklist[0].Param = "case.judge"
		}, "unknown auto_field param"},
		{"auto_dms without kind", func(c *config.Config) {
			c.Stages[0].Checklist[0].Rule = config.RuleAutoDMS
			c.Stages[0].Checklist[0].Param = ""
		}, "document kind"},
		{"unknown rule", func(c *config.Config) {
			c.Stages[0].Checklist[0].Rule = "auto_magic"
		}, "unknown rule"},
		{"unknown approval transition", func(c *config.Config) {
			c.Approvals.Transitions = []string{"sideways"}
		}, "unknown type"},
		{"approvals without roles", func(c *config.Config) {
			c.Approvals.Roles = nil
		}, "roles"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("firm-1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestStageNavigation(t *testing.T) {
	cfg := config.Default("firm-1")
	if got := cfg.NextStage("assessment"); got != "notice" {
		t.Fatalf("expected notice after assessment, got %s", got)
	}
	if got := cfg.NextStage("appeal"); got != "" {
		t.Fatalf("appeal is last, got %s", got)
	}
	if got := cfg.NextStage("nonsense"); got != "" {
		t.Fatalf("unknown stage has no next, got %s", got)
	}
	if _, ok := cfg.StageByKey("hearing"); !ok {
		t.Fatalf("expected hearing stage")
	}
	if _, ok := cfg.StageByKey("tribunal"); ok {
		t.Fatalf("unexpected tribunal stage")
	}
}

func TestReasonVocabularies(t *testing.T) {
	cfg := config.Default("firm-1")
	if !cfg.ReasonAllowed(config.TransitionRemand, "legal_deficiency") {
		t.Fatalf("legal_deficiency should be a remand reason")
	}
	if cfg.ReasonAllowed(config.TransitionRemand, "data_correction") {
		t.Fatalf("data_correction is a send-back reason, not remand")
	}
	if !cfg.ReasonAllowed(config.TransitionSendBack, "wrong_forum") {
		t.Fatalf("wrong_forum should be a send-back reason")
	}
}

func TestApprovalGating(t *testing.T) {
	cfg := config.Default("firm-1")
	if cfg.RequiresApproval(config.TransitionForward) {
		t.Fatalf("forward moves are not gated by default")
	}
	if !cfg.RequiresApproval(config.TransitionRemand) || !cfg.RequiresApproval(config.TransitionSendBack) {
		t.Fatalf("remand and send-back are gated by default")
	}
	if !cfg.RoleMayApprove("partner") || !cfg.RoleMayApprove("principal") {
		t.Fatalf("partner and principal approve by default")
	}
	if cfg.RoleMayApprove("associate") {
		t.Fatalf("associate must not approve")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("acme-legal")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	if cfg.Firm.ID != "acme-legal" {
		t.Fatalf("expected firm id in template, got %q", cfg.Firm.ID)
	}
	if len(cfg.Stages) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(cfg.Stages))
	}
}
