package server

// Request bodies for the Stageline API. Responses reuse the domain structs,
// which carry the JSON shape the API exposes.

type CreateCaseRequest struct {
	FirmID      string `json:"firm_id,omitempty"`
	CaseNumber  string `json:"case_number"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	StageKey    string `json:"stage_key,omitempty"`
}

type UpdateCaseRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	OnHold       *bool   `json:"on_hold,omitempty"`
}

type TransitionRequest struct {
	FromInstanceID  string `json:"from_instance_id,omitempty"`
	ToStageKey      string `json:"to_stage_key,omitempty"`
	ReasonCode      string `json:"reason_code,omitempty"`
	Reason          string `json:"reason,omitempty"`
	OrderNo         string `json:"order_no,omitempty"`
	OrderDate       string `json:"order_date,omitempty" format:"date"`
	OrderDocumentID string `json:"order_document_id,omitempty"`
	Comments        string `json:"comments,omitempty"`
}

type CreateNoticeRequest struct {
	InstanceID         string   `json:"instance_id,omitempty"`
	Type               string   `json:"type"`
	Number             string   `json:"number,omitempty"`
	IssuedOn           string   `json:"issued_on,omitempty" format:"date"`
	DueOn              string   `json:"due_on,omitempty" format:"date"`
	TaxAmount          int64    `json:"tax_amount,omitempty"`
	InterestAmount     int64    `json:"interest_amount,omitempty"`
	PenaltyAmount      int64    `json:"penalty_amount,omitempty"`
	TaxApplicable      bool     `json:"tax_applicable,omitempty"`
	InterestApplicable bool     `json:"interest_applicable,omitempty"`
	PenaltyApplicable  bool     `json:"penalty_applicable,omitempty"`
	IsOriginal         bool     `json:"is_original,omitempty"`
	DocumentIDs        []string `json:"document_ids,omitempty"`
}

type UpdateNoticeRequest struct {
	InstanceID         *string  `json:"instance_id,omitempty"`
	Number             *string  `json:"number,omitempty"`
	IssuedOn           *string  `json:"issued_on,omitempty" format:"date"`
	DueOn              *string  `json:"due_on,omitempty" format:"date"`
	TaxAmount          *int64   `json:"tax_amount,omitempty"`
	InterestAmount     *int64   `json:"interest_amount,omitempty"`
	PenaltyAmount      *int64   `json:"penalty_amount,omitempty"`
	TaxApplicable      *bool    `json:"tax_applicable,omitempty"`
	InterestApplicable *bool    `json:"interest_applicable,omitempty"`
	PenaltyApplicable  *bool    `json:"penalty_applicable,omitempty"`
	Status             *string  `json:"status,omitempty" enum:"received,reply_pending,replied,closed"`
	WorkflowStep       *string  `json:"workflow_step,omitempty" enum:"notice,reply,hearing,closed"`
	DocumentIDs        []string `json:"document_ids,omitempty"`
}

type CreateReplyRequest struct {
	FiledOn     string   `json:"filed_on,omitempty" format:"date"`
	Reference   string   `json:"reference,omitempty"`
	FilingMode  string   `json:"filing_mode,omitempty" enum:"portal,physical,email"`
	Notes       string   `json:"notes,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type UpdateReplyRequest struct {
	FiledOn      *string  `json:"filed_on,omitempty" format:"date"`
	Reference    *string  `json:"reference,omitempty"`
	FilingStatus *string  `json:"filing_status,omitempty" enum:"draft,filed,acknowledged"`
	FilingMode   *string  `json:"filing_mode,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
}

type CreateHearingRequest struct {
	InstanceID  string `json:"instance_id,omitempty"`
	ScheduledOn string `json:"scheduled_on,omitempty" format:"date"`
	HeldOn      string `json:"held_on,omitempty" format:"date"`
	Outcome     string `json:"outcome,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type UpdateHearingRequest struct {
	ScheduledOn *string `json:"scheduled_on,omitempty" format:"date"`
	HeldOn      *string `json:"held_on,omitempty" format:"date"`
	Outcome     *string `json:"outcome,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type AddDocumentRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	URI  string `json:"uri,omitempty"`
}

type AttestRequest struct {
	Note       string `json:"note,omitempty"`
	EvidenceID string `json:"evidence_id,omitempty"`
}

type OverrideRequest struct {
	Note string `json:"note"`
}

type StepRequest struct {
	Notes string `json:"notes,omitempty"`
}

type DecideRequest struct {
	Approve  bool   `json:"approve"`
	Comments string `json:"comments,omitempty"`
}

type CommentRequest struct {
	Comments string `json:"comments"`
}
