package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// UserIDHeader names the acting user on HTTP requests.
const UserIDHeader = "X-User-ID"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	engine      *service.ApprovalEngine
	flows       *service.FlowService
	delegations *service.DelegationService
	records     *service.RecordService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	engine *service.ApprovalEngine,
	flows *service.FlowService,
	delegations *service.DelegationService,
	records *service.RecordService,
	log *logger.Logger,
) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{
		engine:      engine,
		flows:       flows,
		delegations: delegations,
		records:     records,
		log:         log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals/submit", h.Submit)
	mux.HandleFunc("/api/v1/approvals/action", h.ProcessAction)
	mux.HandleFunc("/api/v1/approvals/approve-all", h.ApproveAll)
	mux.HandleFunc("/api/v1/approvals/get", h.GetRequest)
	mux.HandleFunc("/api/v1/approvals/history", h.GetHistory)
	mux.HandleFunc("/api/v1/approvals/progress", h.GetProgress)
	mux.HandleFunc("/api/v1/approvals/pending", h.ListPending)
	mux.HandleFunc("/api/v1/approvals/summary", h.Summary)

	mux.HandleFunc("/api/v1/flows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListFlows(w, r)
		case http.MethodPost:
			h.RegisterFlow(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/flows/get", h.GetFlow)
	mux.HandleFunc("/api/v1/flows/archive", h.ArchiveFlow)

	mux.HandleFunc("/api/v1/delegations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListDelegations(w, r)
		case http.MethodPost:
			h.CreateDelegation(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/delegations/deactivate", h.DeactivateDelegation)

	mux.HandleFunc("/api/v1/records", h.UpsertRecord)
	mux.HandleFunc("/api/v1/records/get", h.GetRecord)
}

// ── Approval requests ────────────────────────────────────────────────────────

type submitRequest struct {
	FlowID         string `json:"flow_id"`
	ResModel       string `json:"res_model"`
	ResID          string `json:"res_id"`
	ModuleName     string `json:"module_name"`
	RequestedForID string `json:"requested_for_id"`
	BranchID       string `json:"branch_id"`
	Remarks        string `json:"remarks"`
}

// Submit handles submit for approval HTTP requests
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if !decode(w, r, &req) {
		return
	}

	created, err := h.engine.Submit(r.Context(), service.SubmitInput{
		FlowID:         req.FlowID,
		ResModel:       req.ResModel,
		ResID:          req.ResID,
		ModuleName:     req.ModuleName,
		RequestedBy:    actor,
		RequestedForID: req.RequestedForID,
		BranchID:       req.BranchID,
		Remarks:        req.Remarks,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type actionRequest struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Comment   string `json:"comment"`
}

// ProcessAction handles approve, reject, amend, send-to-employee and revert
func (h *HTTPHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if !decode(w, r, &req) {
		return
	}

	updated, err := h.engine.ProcessAction(r.Context(), service.ActionInput{
		RequestID:  req.RequestID,
		ActionCode: req.Action,
		UserID:     actor,
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ApproveAll handles bulk approval HTTP requests
func (h *HTTPHandler) ApproveAll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		RequestIDs []string `json:"request_ids"`
		Comment    string   `json:"comment"`
	}
	if !decode(w, r, &req) {
		return
	}

	result, err := h.engine.ApproveAll(r.Context(), actor, req.RequestIDs, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"message": result.Message(),
	})
}

// GetRequest handles get approval request HTTP requests
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "Request ID is required"))
		return
	}

	req, err := h.engine.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GetHistory handles approval history HTTP requests
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("request_id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("request_id", "Request ID is required"))
		return
	}

	entries, err := h.engine.GetHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// GetProgress handles step progress HTTP requests
func (h *HTTPHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("request_id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("request_id", "Request ID is required"))
		return
	}

	progress, err := h.engine.Progress(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// ListPending handles "awaiting my decision" HTTP requests
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	requests, err := h.engine.PendingFor(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": nonNilRequests(requests),
		"total":    len(requests),
	})
}

// Summary handles request count HTTP requests
func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	counts, err := h.engine.Summary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// ── Flows ────────────────────────────────────────────────────────────────────

// RegisterFlow handles flow registration HTTP requests
func (h *HTTPHandler) RegisterFlow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var flow repository.Flow
	if !decode(w, r, &flow) {
		return
	}
	flow.CreatedBy = actor

	saved, err := h.flows.Register(r.Context(), &flow)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// ListFlows handles list flows HTTP requests
func (h *HTTPHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.flows.List(r.Context(), r.URL.Query().Get("res_model"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if flows == nil {
		flows = []*repository.Flow{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

// GetFlow handles get flow HTTP requests
func (h *HTTPHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "Flow ID is required"))
		return
	}
	flow, err := h.flows.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// ArchiveFlow handles flow archive HTTP requests
func (h *HTTPHandler) ArchiveFlow(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.flows.Archive(r.Context(), req.ID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// ── Delegations ──────────────────────────────────────────────────────────────

// CreateDelegation handles delegation HTTP requests. Only the delegating
// user may create a delegation.
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.CreateDelegationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OriginalUserID == "" {
		req.OriginalUserID = actor
	}
	if req.OriginalUserID != actor {
		h.writeError(w, errors.Forbidden("you can only delegate your own approvals"))
		return
	}

	d, err := h.delegations.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDelegations handles list delegations HTTP requests
func (h *HTTPHandler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("original_user_id")
	if user == "" {
		user = r.Header.Get(UserIDHeader)
	}
	list, err := h.delegations.List(r.Context(), user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*repository.Delegation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"delegations": list})
}

// DeactivateDelegation handles delegation deactivation HTTP requests
func (h *HTTPHandler) DeactivateDelegation(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.delegations.Deactivate(r.Context(), req.ID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ── Target records ───────────────────────────────────────────────────────────

// UpsertRecord handles record snapshot HTTP requests
func (h *HTTPHandler) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	var req service.UpsertRecordRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LastModifiedBy == "" {
		req.LastModifiedBy = r.Header.Get(UserIDHeader)
	}

	rec, err := h.records.Upsert(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRecord handles get record snapshot HTTP requests
func (h *HTTPHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	rec, err := h.records.Get(r.Context(), q.Get("model"), q.Get("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(UserIDHeader)
	if id == "" {
		h.writeError(w, errors.New(errors.ErrCodeUnauthorized, "X-User-ID header is required"))
		return "", false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("HTTP request failed")
	}

	body := map[string]interface{}{
		"code":  errors.CodeOf(err),
		"error": err.Error(),
	}
	var e *errors.Error
	if errors.As(err, &e) {
		body["error"] = e.Message
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
	}
	writeJSON(w, status, body)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNilRequests(in []*repository.Request) []*repository.Request {
	if in == nil {
		return []*repository.Request{}
	}
	return in
}
