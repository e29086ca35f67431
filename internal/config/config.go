package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Transition types form a closed set; they are not user-definable.
const (
	TransitionForward  = "forward"
	TransitionSendBack = "send_back"
	TransitionRemand   = "remand"
)

// Checklist rule kinds form a closed set dispatched by the evaluator.
const (
	RuleManual      = "manual"
	RuleAutoDMS     = "auto_dms"
	RuleAutoHearing = "auto_hearing"
	RuleAutoField   = "auto_field"
)

// Fields an auto_field rule may inspect.
var autoFieldParams = map[string]bool{
	"case.title":       true,
	"case.number":      true,
	"notice.number":    true,
	"notice.issued_on": true,
	"notice.due_on":    true,
	"reply.reference":  true,
}

// Config models stageline.yml.
type Config struct {
	Firm struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"firm"`
	Stages  []StageConfig `yaml:"stages"`
	Reasons struct {
		Remand   []string `yaml:"remand"`
		SendBack []string `yaml:"send_back"`
	} `yaml:"reasons"`
	Approvals struct {
		Transitions []string `yaml:"transitions"`
		Roles       []string `yaml:"roles"`
	} `yaml:"approvals"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type StageConfig struct {
	Key       string              `yaml:"key"`
	Label     string              `yaml:"label"`
	Checklist []ChecklistTemplate `yaml:"checklist"`
}

type ChecklistTemplate struct {
	Key      string `yaml:"key"`
	Label    string `yaml:"label"`
	Required bool   `yaml:"required"`
	Rule     string `yaml:"rule"`
	Param    string `yaml:"param"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl firm config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Firm.ID == "" {
		return fmt.Errorf("config.firm.id is required")
	}
	if c.Firm.Kind != "law-practice" {
		return fmt.Errorf("config.firm.kind must be 'law-practice'")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("config.stages is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Stages {
		if s.Key == "" {
			return fmt.Errorf("config.stages contains empty stage key")
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate stage key %s", s.Key)
		}
		seen[s.Key] = true
		for _, item := range s.Checklist {
			if item.Key == "" {
				return fmt.Errorf("stage %s has checklist item with empty key", s.Key)
			}
			switch item.Rule {
			case RuleManual:
			case RuleAutoDMS:
				if item.Param == "" {
					return fmt.Errorf("stage %s item %s: auto_dms requires a document kind param", s.Key, item.Key)
				}
			case RuleAutoHearing:
				if item.Param != "" {
					if n, err := strconv.Atoi(item.Param); err != nil || n < 1 {
						return fmt.Errorf("stage %s item %s: auto_hearing param must be a positive count", s.Key, item.Key)
					}
				}
			case RuleAutoField:
				if !autoFieldParams[item.Param] {
					return fmt.Errorf("stage %s item %s: unknown auto_field param %s", s.Key, item.Key, item.Param)
				}
			default:
				return fmt.Errorf("stage %s item %s: unknown rule %s", s.Key, item.Key, item.Rule)
			}
		}
	}
	for _, t := range c.Approvals.Transitions {
		if t != TransitionForward && t != TransitionSendBack && t != TransitionRemand {
			return fmt.Errorf("config.approvals.transitions contains unknown type %s", t)
		}
	}
	if len(c.Approvals.Transitions) > 0 && len(c.Approvals.Roles) == 0 {
		return fmt.Errorf("config.approvals.roles is required when approval transitions are set")
	}
	return nil
}

// StageByKey returns the stage config for a key.
func (c *Config) StageByKey(key string) (StageConfig, bool) {
	for _, s := range c.Stages {
		if s.Key == key {
			return s, true
		}
	}
	return StageConfig{}, false
}

// FirstStage returns the key of the first configured stage.
func (c *Config) FirstStage() string {
	if len(c.Stages) == 0 {
		return ""
	}
	return c.Stages[0].Key
}

// NextStage returns the stage key following the given one in the configured
// order, or "" when the key is last (or unknown).
func (c *Config) NextStage(key string) string {
	for i, s := range c.Stages {
		if s.Key == key && i+1 < len(c.Stages) {
			return c.Stages[i+1].Key
		}
	}
	return ""
}

// ReasonAllowed reports whether code is in the vocabulary for the transition type.
func (c *Config) ReasonAllowed(transitionType, code string) bool {
	var vocab []string
	switch transitionType {
	case TransitionRemand:
		vocab = c.Reasons.Remand
	case TransitionSendBack:
		vocab = c.Reasons.SendBack
	default:
		return false
	}
	for _, v := range vocab {
		if v == code {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether the transition type is approval-gated.
func (c *Config) RequiresApproval(transitionType string) bool {
	for _, t := range c.Approvals.Transitions {
		if t == transitionType {
			return true
		}
	}
	return false
}

// RoleMayApprove reports whether a role may decide approval-gated transitions.
func (c *Config) RoleMayApprove(role string) bool {
	for _, r := range c.Approvals.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(firmID string) string {
	return fmt.Sprintf(defaultTemplate, firmID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a firm.
func Default(firmID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(firmID)))
	if err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `firm:
  id: %s
  kind: law-practice

stages:
  - key: assessment
    label: Assessment
    checklist:
      - key: facts.reviewed
        label: "Case facts and records reviewed"
        required: true
        rule: manual
      - key: notice.recorded
        label: "Triggering notice recorded with number"
        required: true
        rule: auto_field
        param: notice.number
      - key: submissions.filed
        label: "Written submissions filed"
        required: false
        rule: auto_field
        param: reply.reference
      - key: order.copy
        label: "Assessment order copy on file"
        required: true
        rule: auto_dms
        param: order

  - key: notice
    label: Notice
    checklist:
      - key: notice.recorded
        label: "Notice recorded with number"
        required: true
        rule: auto_field
        param: notice.number
      - key: due.tracked
        label: "Reply due date captured"
        required: true
        rule: auto_field
        param: notice.due_on
      - key: reply.drafted
        label: "Draft reply prepared"
        required: false
        rule: manual

  - key: reply
    label: Reply
    checklist:
      - key: reply.filed
        label: "Reply filed with reference"
        required: true
        rule: auto_field
        param: reply.reference
      - key: filing.proof
        label: "Filing acknowledgement on file"
        required: true
        rule: auto_dms
        param: acknowledgement

  - key: hearing
    label: Hearing
    checklist:
      - key: hearing.held
        label: "At least one hearing attended"
        required: true
        rule: auto_hearing
        param: "1"
      - key: minutes.recorded
        label: "Hearing minutes recorded"
        required: false
        rule: manual

  - key: order
    label: Order
    checklist:
      - key: order.copy
        label: "Order copy on file"
        required: true
        rule: auto_dms
        param: order
      - key: demand.reconciled
        label: "Demand reconciled against order"
        required: true
        rule: manual

  - key: appeal
    label: Appeal
    checklist:
      - key: appeal.memo
        label: "Appeal memo on file"
        required: true
        rule: auto_dms
        param: appeal_memo
      - key: predeposit.paid
        label: "Pre-deposit paid"
        required: true
        rule: manual
      - key: hearing.held
        label: "Appellate hearing attended"
        required: false
        rule: auto_hearing
        param: "1"

reasons:
  remand:
    - legal_deficiency
    - fresh_evidence
    - procedural_error
    - recomputation
  send_back:
    - data_correction
    - incomplete_record
    - wrong_forum

approvals:
  transitions: [remand, send_back]
  roles: [partner, principal]
`
