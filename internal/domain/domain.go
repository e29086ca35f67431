package domain

type Firm struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Case struct {
	ID           string  `json:"id"`
	FirmID       string  `json:"firm_id"`
	CaseNumber   string  `json:"case_number"`
	Title        string  `json:"title,omitempty"`
	Status       string  `json:"status" enum:"open,on_hold,closed"`
	Description  string  `json:"description,omitempty"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	OpenedAt     string  `json:"opened_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	ClosedAt     *string `json:"closed_at,omitempty" format:"date-time"`
}

// StageInstance is one visit of a case to a stage, numbered by cycle.
type StageInstance struct {
	ID        string  `json:"id"`
	CaseID    string  `json:"case_id"`
	StageKey  string  `json:"stage_key"`
	CycleNo   int     `json:"cycle_no"`
	Status    string  `json:"status" enum:"active,completed,remanded,superseded"`
	StartedAt string  `json:"started_at" format:"date-time"`
	EndedAt   *string `json:"ended_at,omitempty" format:"date-time"`
}

// StageTransition is an edge in the case's stage graph. Rows are append-only;
// once confirmed they are never updated.
type StageTransition struct {
	ID               string  `json:"id"`
	CaseID           string  `json:"case_id"`
	FromInstanceID   *string `json:"from_instance_id,omitempty"`
	ToInstanceID     string  `json:"to_instance_id"`
	Type             string  `json:"type" enum:"forward,send_back,remand"`
	ReasonCode       string  `json:"reason_code,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	OrderNo          string  `json:"order_no,omitempty"`
	OrderDate        string  `json:"order_date,omitempty"`
	OrderDocumentID  *string `json:"order_document_id,omitempty"`
	Comments         string  `json:"comments,omitempty"`
	RequiresApproval bool    `json:"requires_approval"`
	IsConfirmed      bool    `json:"is_confirmed"`
	ActorID          string  `json:"actor_id"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type ChecklistItem struct {
	ID         string  `json:"id"`
	InstanceID string  `json:"instance_id"`
	ItemKey    string  `json:"item_key"`
	Label      string  `json:"label"`
	Required   bool    `json:"required"`
	RuleType   string  `json:"rule_type" enum:"auto_dms,auto_hearing,auto_field,manual"`
	RuleParam  string  `json:"rule_param,omitempty"`
	Status     string  `json:"status" enum:"pending,auto_ok,attested,override"`
	AttestedBy *string `json:"attested_by,omitempty"`
	AttestedAt *string `json:"attested_at,omitempty" format:"date-time"`
	Note       string  `json:"note,omitempty"`
	EvidenceID *string `json:"evidence_id,omitempty"`
}

// StageNotice is a notice received on a case. The case owns it; a stage
// instance references it, and a notice may predate workflow attachment.
type StageNotice struct {
	ID                 string   `json:"id"`
	CaseID             string   `json:"case_id"`
	InstanceID         *string  `json:"instance_id,omitempty"`
	Type               string   `json:"type"`
	Number             string   `json:"number"`
	IssuedOn           string   `json:"issued_on,omitempty" format:"date"`
	DueOn              string   `json:"due_on,omitempty" format:"date"`
	TaxAmount          int64    `json:"tax_amount"`
	InterestAmount     int64    `json:"interest_amount"`
	PenaltyAmount      int64    `json:"penalty_amount"`
	TaxApplicable      bool     `json:"tax_applicable"`
	InterestApplicable bool     `json:"interest_applicable"`
	PenaltyApplicable  bool     `json:"penalty_applicable"`
	Status             string   `json:"status" enum:"received,reply_pending,replied,closed"`
	WorkflowStep       string   `json:"workflow_step" enum:"notice,reply,hearing,closed"`
	IsOriginal         bool     `json:"is_original"`
	DocumentIDs        []string `json:"document_ids,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// TotalDemand derives the demanded amount from its components, each gated by
// its applicability flag. The total is never stored.
func (n StageNotice) TotalDemand() int64 {
	var total int64
	if n.TaxApplicable {
		total += n.TaxAmount
	}
	if n.InterestApplicable {
		total += n.InterestAmount
	}
	if n.PenaltyApplicable {
		total += n.PenaltyAmount
	}
	return total
}

type StageReply struct {
	ID           string   `json:"id"`
	NoticeID     string   `json:"notice_id"`
	CaseID       string   `json:"case_id"`
	InstanceID   *string  `json:"instance_id,omitempty"`
	FiledOn      string   `json:"filed_on,omitempty" format:"date"`
	Reference    string   `json:"reference,omitempty"`
	FilingStatus string   `json:"filing_status" enum:"draft,filed,acknowledged"`
	FilingMode   string   `json:"filing_mode,omitempty" enum:"portal,physical,email"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	FiledBy      string   `json:"filed_by,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

type Hearing struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	InstanceID  *string `json:"instance_id,omitempty"`
	ScheduledOn string  `json:"scheduled_on,omitempty" format:"date"`
	HeldOn      string  `json:"held_on,omitempty" format:"date"`
	Outcome     string  `json:"outcome,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// StageWorkflowStep is the explicit completion record for one of the four
// fixed steps (notices, reply, hearings, closure) of a stage instance.
type StageWorkflowStep struct {
	ID          string  `json:"id"`
	InstanceID  string  `json:"instance_id"`
	StepKey     string  `json:"step_key" enum:"notices,reply,hearings,closure"`
	Status      string  `json:"status" enum:"pending,in_progress,completed,skipped"`
	CompletedBy *string `json:"completed_by,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
}

type TransitionApproval struct {
	ID           string `json:"id"`
	TransitionID string `json:"transition_id"`
	Action       string `json:"action" enum:"request,approve,reject,comment"`
	ActorID      string `json:"actor_id"`
	ActorRole    string `json:"actor_role,omitempty"`
	Comments     string `json:"comments,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Document struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	URI       string `json:"uri,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
