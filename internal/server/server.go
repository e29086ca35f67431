package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stageline/internal/app"
	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

// apiError is the flat error envelope every endpoint returns.
type apiError struct {
	status  int
	Code    string         `json:"code" example:"blocked"`
	Message string         `json:"message" example:"checklist blocks closing this stage"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the Stageline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Stageline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerFirms(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerNotices(group, cfg.Engine)
	registerHearings(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var be engine.BlockedError
	if errors.As(err, &be) {
		return newAPIError(http.StatusUnprocessableEntity, "blocked", err.Error(), map[string]any{
			"blocking_reasons": be.Reasons,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "blocked"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerFirms(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-firms",
		Method:      http.MethodGet,
		Path:        "/firms",
		Summary:     "List firms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Firm `json:"body"`
	}, error) {
		items, err := e.Repo.ListFirms(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Firm `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-firm-config",
		Method:      http.MethodGet,
		Path:        "/firms/{firm_id}/config",
		Summary:     "Get firm config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FirmID string `path:"firm_id"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		raw, err := e.Repo.GetFirmConfig(ctx, input.FirmID)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := config.FromYAML([]byte(raw))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: *cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-firm-config",
		Method:      http.MethodPut,
		Path:        "/firms/{firm_id}/config",
		Summary:     "Replace firm config",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FirmID string `path:"firm_id"`
		Body   config.Config
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		if _, err := e.Repo.GetFirm(ctx, input.FirmID); err != nil {
			return nil, handleError(err)
		}
		cfg := input.Body
		if err := app.SaveConfig(ctx, input.FirmID, &cfg, e.Repo); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerCases(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		firmID := input.Body.FirmID
		if firmID == "" {
			firmID = e.Config.Firm.ID
		}
		c, err := e.OpenCase(ctx, engine.OpenCaseParams{
			FirmID:      firmID,
			CaseNumber:  input.Body.CaseNumber,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			StageKey:    input.Body.StageKey,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		FirmID string `query:"firm_id"`
		Status string `query:"status" enum:",open,on_hold,closed"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		firmID := input.FirmID
		if firmID == "" {
			firmID = e.Config.Firm.ID
		}
		items, err := e.Repo.ListCases(ctx, firmID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Update case",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCase(ctx, engine.UpdateCaseParams{
			CaseID:       input.CaseID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			AssignedToID: input.Body.AssignedToID,
			OnHold:       input.Body.OnHold,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case-state",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/state",
		Summary:     "Current case state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body engine.CaseState `json:"body"`
	}, error) {
		st, err := e.CurrentState(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CaseState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-stages",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/stages",
		Summary:     "List stage instances",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.StageInstance `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListInstances(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageInstance `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-transitions",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/transitions",
		Summary:     "List transitions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.StageTransition `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTransitions(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageTransition `json:"body"`
		}{Body: items}, nil
	})

	registerMove(api, e, "advance-case", "/cases/{case_id}/advance", "Advance case to the next stage", e.Advance)
	registerMove(api, e, "remand-case", "/cases/{case_id}/remand", "Remand case to an earlier stage", e.Remand)
	registerMove(api, e, "send-back-case", "/cases/{case_id}/send-back", "Send case back for correction", e.SendBack)
}

func registerMove(api huma.API, e *engine.Engine, opID, route, summary string,
	move func(context.Context, engine.TransitionParams) (domain.StageTransition, error)) {
	huma.Register(api, huma.Operation{
		OperationID:   opID,
		Method:        http.MethodPost,
		Path:          route,
		Summary:       summary,
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.StageTransition `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := move(ctx, engine.TransitionParams{
			CaseID:          input.CaseID,
			FromInstanceID:  input.Body.FromInstanceID,
			ToStageKey:      input.Body.ToStageKey,
			ReasonCode:      input.Body.ReasonCode,
			Reason:          input.Body.Reason,
			OrderNo:         input.Body.OrderNo,
			OrderDate:       input.Body.OrderDate,
			OrderDocumentID: input.Body.OrderDocumentID,
			Comments:        input.Body.Comments,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageTransition `json:"body"`
		}{Body: t}, nil
	})
}

func registerTransitions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-transition",
		Method:      http.MethodGet,
		Path:        "/transitions/{transition_id}",
		Summary:     "Get transition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string `path:"transition_id"`
	}) (*struct {
		Body domain.StageTransition `json:"body"`
	}, error) {
		t, err := e.Repo.GetTransition(ctx, input.TransitionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageTransition `json:"body"`
		}{Body: t}, nil
	})
}

func registerStages(api huma.API, e *engine.Engine) {
	type checklistResponse struct {
		Items    []domain.ChecklistItem `json:"items"`
		CanClose bool                   `json:"can_close"`
		Blocking []string               `json:"blocking_reasons,omitempty"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-checklist",
		Method:      http.MethodGet,
		Path:        "/stages/{instance_id}/checklist",
		Summary:     "Evaluate stage checklist",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body checklistResponse `json:"body"`
	}, error) {
		items, err := e.Evaluate(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		blocking := engine.BlockingReasons(items)
		return &struct {
			Body checklistResponse `json:"body"`
		}{Body: checklistResponse{
			Items:    items,
			CanClose: len(blocking) == 0,
			Blocking: blocking,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attest-checklist-item",
		Method:      http.MethodPost,
		Path:        "/stages/{instance_id}/checklist/{item_key}/attest",
		Summary:     "Attest a manual checklist item",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string        `path:"instance_id"`
		ItemKey    string        `path:"item_key"`
		Body       AttestRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ci, err := e.Attest(ctx, input.InstanceID, input.ItemKey, actorID, input.Body.Note, input.Body.EvidenceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: ci}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-checklist-item",
		Method:      http.MethodPost,
		Path:        "/stages/{instance_id}/checklist/{item_key}/override",
		Summary:     "Override a checklist item",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string          `path:"instance_id"`
		ItemKey    string          `path:"item_key"`
		Body       OverrideRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ci, err := e.Override(ctx, input.InstanceID, input.ItemKey, actorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: ci}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/stages/{instance_id}/workflow",
		Summary:     "Stage workflow state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body engine.WorkflowState `json:"body"`
	}, error) {
		st, err := e.GetWorkflow(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkflowState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-workflow-step",
		Method:      http.MethodPost,
		Path:        "/stages/{instance_id}/workflow/{step_key}/complete",
		Summary:     "Complete a workflow step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		InstanceID string      `path:"instance_id"`
		StepKey    string      `path:"step_key" enum:"notices,reply,hearings,closure"`
		Body       StepRequest `json:"body"`
	}) (*struct {
		Body domain.StageWorkflowStep `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.CompleteStep(ctx, input.InstanceID, input.StepKey, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageWorkflowStep `json:"body"`
		}{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-workflow-step",
		Method:      http.MethodPost,
		Path:        "/stages/{instance_id}/workflow/{step_key}/skip",
		Summary:     "Skip a workflow step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		InstanceID string      `path:"instance_id"`
		StepKey    string      `path:"step_key" enum:"notices,reply,hearings"`
		Body       StepRequest `json:"body"`
	}) (*struct {
		Body domain.StageWorkflowStep `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.SkipStep(ctx, input.InstanceID, input.StepKey, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageWorkflowStep `json:"body"`
		}{Body: ws}, nil
	})
}

func registerNotices(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-notice",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/notices",
		Summary:       "Record notice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   CreateNoticeRequest `json:"body"`
	}) (*struct {
		Body domain.StageNotice `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.CreateNotice(ctx, engine.NoticeParams{
			CaseID:             input.CaseID,
			InstanceID:         input.Body.InstanceID,
			Type:               input.Body.Type,
			Number:             input.Body.Number,
			IssuedOn:           input.Body.IssuedOn,
			DueOn:              input.Body.DueOn,
			TaxAmount:          input.Body.TaxAmount,
			InterestAmount:     input.Body.InterestAmount,
			PenaltyAmount:      input.Body.PenaltyAmount,
			TaxApplicable:      input.Body.TaxApplicable,
			InterestApplicable: input.Body.InterestApplicable,
			PenaltyApplicable:  input.Body.PenaltyApplicable,
			IsOriginal:         input.Body.IsOriginal,
			DocumentIDs:        input.Body.DocumentIDs,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageNotice `json:"body"`
		}{Body: n}, nil
	})

	type noticeWithTotal struct {
		domain.StageNotice
		TotalDemand int64 `json:"total_demand"`
	}
	withTotal := func(n domain.StageNotice) noticeWithTotal {
		return noticeWithTotal{StageNotice: n, TotalDemand: n.TotalDemand()}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-notices",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/notices",
		Summary:     "List notices",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []noticeWithTotal `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListNotices(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]noticeWithTotal, 0, len(items))
		for _, n := range items {
			out = append(out, withTotal(n))
		}
		return &struct {
			Body []noticeWithTotal `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-notice",
		Method:      http.MethodGet,
		Path:        "/notices/{notice_id}",
		Summary:     "Get notice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string `path:"notice_id"`
	}) (*struct {
		Body noticeWithTotal `json:"body"`
	}, error) {
		n, err := e.Repo.GetNotice(ctx, input.NoticeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body noticeWithTotal `json:"body"`
		}{Body: withTotal(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-notice",
		Method:      http.MethodPatch,
		Path:        "/notices/{notice_id}",
		Summary:     "Update notice",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string              `path:"notice_id"`
		Body     UpdateNoticeRequest `json:"body"`
	}) (*struct {
		Body noticeWithTotal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.UpdateNotice(ctx, engine.UpdateNoticeParams{
			NoticeID:           input.NoticeID,
			InstanceID:         input.Body.InstanceID,
			Number:             input.Body.Number,
			IssuedOn:           input.Body.IssuedOn,
			DueOn:              input.Body.DueOn,
			TaxAmount:          input.Body.TaxAmount,
			InterestAmount:     input.Body.InterestAmount,
			PenaltyAmount:      input.Body.PenaltyAmount,
			TaxApplicable:      input.Body.TaxApplicable,
			InterestApplicable: input.Body.InterestApplicable,
			PenaltyApplicable:  input.Body.PenaltyApplicable,
			Status:             input.Body.Status,
			WorkflowStep:       input.Body.WorkflowStep,
			DocumentIDs:        input.Body.DocumentIDs,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body noticeWithTotal `json:"body"`
		}{Body: withTotal(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-notice",
		Method:      http.MethodDelete,
		Path:        "/notices/{notice_id}",
		Summary:     "Delete notice",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string `path:"notice_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteNotice(ctx, input.NoticeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-reply",
		Method:        http.MethodPost,
		Path:          "/notices/{notice_id}/replies",
		Summary:       "Draft reply to notice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string             `path:"notice_id"`
		Body     CreateReplyRequest `json:"body"`
	}) (*struct {
		Body domain.StageReply `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rp, err := e.CreateReply(ctx, engine.ReplyParams{
			NoticeID:    input.NoticeID,
			FiledOn:     input.Body.FiledOn,
			Reference:   input.Body.Reference,
			FilingMode:  input.Body.FilingMode,
			Notes:       input.Body.Notes,
			DocumentIDs: input.Body.DocumentIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageReply `json:"body"`
		}{Body: rp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-replies",
		Method:      http.MethodGet,
		Path:        "/notices/{notice_id}/replies",
		Summary:     "List replies for notice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string `path:"notice_id"`
	}) (*struct {
		Body []domain.StageReply `json:"body"`
	}, error) {
		if _, err := e.Repo.GetNotice(ctx, input.NoticeID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRepliesByNotice(ctx, input.NoticeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageReply `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-reply",
		Method:      http.MethodPatch,
		Path:        "/replies/{reply_id}",
		Summary:     "Update reply",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReplyID string             `path:"reply_id"`
		Body    UpdateReplyRequest `json:"body"`
	}) (*struct {
		Body domain.StageReply `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rp, err := e.UpdateReply(ctx, engine.UpdateReplyParams{
			ReplyID:      input.ReplyID,
			FiledOn:      input.Body.FiledOn,
			Reference:    input.Body.Reference,
			FilingStatus: input.Body.FilingStatus,
			FilingMode:   input.Body.FilingMode,
			Notes:        input.Body.Notes,
			DocumentIDs:  input.Body.DocumentIDs,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageReply `json:"body"`
		}{Body: rp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-reply",
		Method:      http.MethodDelete,
		Path:        "/replies/{reply_id}",
		Summary:     "Delete draft reply",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReplyID string `path:"reply_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteReply(ctx, input.ReplyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHearings(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-hearing",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/hearings",
		Summary:       "Record hearing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   CreateHearingRequest `json:"body"`
	}) (*struct {
		Body domain.Hearing `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.RecordHearing(ctx, engine.HearingParams{
			CaseID:      input.CaseID,
			InstanceID:  input.Body.InstanceID,
			ScheduledOn: input.Body.ScheduledOn,
			HeldOn:      input.Body.HeldOn,
			Outcome:     input.Body.Outcome,
			Notes:       input.Body.Notes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Hearing `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-hearings",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/hearings",
		Summary:     "List hearings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.Hearing `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHearings(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Hearing `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-hearing",
		Method:      http.MethodPatch,
		Path:        "/hearings/{hearing_id}",
		Summary:     "Update hearing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HearingID string               `path:"hearing_id"`
		Body      UpdateHearingRequest `json:"body"`
	}) (*struct {
		Body domain.Hearing `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.UpdateHearing(ctx, engine.UpdateHearingParams{
			HearingID:   input.HearingID,
			ScheduledOn: input.Body.ScheduledOn,
			HeldOn:      input.Body.HeldOn,
			Outcome:     input.Body.Outcome,
			Notes:       input.Body.Notes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Hearing `json:"body"`
		}{Body: h}, nil
	})
}

func registerDocuments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/documents",
		Summary:       "Add document reference",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   AddDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDocument(ctx, input.CaseID, input.Body.Kind, input.Body.Name, input.Body.URI, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Kind   string `query:"kind"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDocuments(ctx, input.CaseID, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: items}, nil
	})
}

func registerApprovals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/transitions/{transition_id}/approvals",
		Summary:     "Approval thread",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string `path:"transition_id"`
	}) (*struct {
		Body []domain.TransitionApproval `json:"body"`
	}, error) {
		items, err := e.ApprovalThread(ctx, input.TransitionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TransitionApproval `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-approval",
		Method:        http.MethodPost,
		Path:          "/transitions/{transition_id}/approvals/request",
		Summary:       "Request approval",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string         `path:"transition_id"`
		Body         CommentRequest `json:"body,omitempty"`
	}) (*struct {
		Body domain.TransitionApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RequestApproval(ctx, input.TransitionID, actorID, input.Body.Comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TransitionApproval `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "decide-approval",
		Method:        http.MethodPost,
		Path:          "/transitions/{transition_id}/approvals/decide",
		Summary:       "Approve or reject transition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string        `path:"transition_id"`
		Body         DecideRequest `json:"body"`
	}) (*struct {
		Body domain.TransitionApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Decide(ctx, input.TransitionID, actorID, input.Body.Approve, input.Body.Comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TransitionApproval `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "comment-approval",
		Method:        http.MethodPost,
		Path:          "/transitions/{transition_id}/approvals/comments",
		Summary:       "Comment on approval thread",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string         `path:"transition_id"`
		Body         CommentRequest `json:"body"`
	}) (*struct {
		Body domain.TransitionApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Comment(ctx, input.TransitionID, actorID, input.Body.Comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TransitionApproval `json:"body"`
		}{Body: a}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event log",
	}, func(ctx context.Context, input *struct {
		CaseID string `query:"case_id"`
		Type   string `query:"type"`
		Since  int64  `query:"since"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 1000 {
			limit = 200
		}
		items, err := e.Repo.ListEvents(ctx, input.CaseID, input.Type, input.Since, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": p.ActorID,
			"roles":    p.Roles,
			"source":   p.Source,
		}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stageline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
