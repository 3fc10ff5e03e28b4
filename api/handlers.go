/*
handlers.go - HTTP API handlers for the procurement service

PURPOSE:
  Exposes procurement.Service over REST. Handlers decode the body, pull the
  caller from the request context, delegate to the service and serialize
  the result. No business rule lives here.

ENDPOINTS:
  Requests:
    GET    /api/requests                     List (project, status, vendor, url)
    POST   /api/requests                     Save draft or submit
    GET    /api/requests/{id}                Get one
    PUT    /api/requests/{id}                Admin edit
    POST   /api/requests/{id}/{transition}   Lifecycle transitions

  Projects:
    GET    /api/projects                     Active projects, reconciled
    POST   /api/projects                     Create
    PUT    /api/projects/{number}            Edit
    POST   /api/projects/{number}/inactivate Inactivate
    GET    /api/projects/{number}/budget     Reconcile
    GET    /api/projects/{number}/managers   Technical managers

  Costs & users:
    GET/POST /api/costs
    GET/POST /api/users

ERROR HANDLING:
  Core errors map to status codes with errors.Is:
  - 400: ErrValidation, ErrInvalidArgument, malformed body
  - 403: ErrForbidden
  - 404: ErrNotFound
  - 409: ErrPreconditionFailed, ErrDuplicateProject
  - 500: anything else (logged, details withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/money"
	"github.com/utdesign/procurement-engine/procurement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc  *procurement.Service
	log  zerolog.Logger
	ping func(context.Context) error
}

// NewHandler creates a handler over svc. ping, when non-nil, backs /health.
func NewHandler(svc *procurement.Service, log zerolog.Logger, ping func(context.Context) error) *Handler {
	return &Handler{svc: svc, log: log, ping: ping}
}

// Health reports liveness and, when configured, store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable", Details: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// ListRequests returns the requests visible to the caller.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projects, err := projectNumbersParam(q["project"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := procurement.RequestFilter{
		ProjectNumbers: projects,
		Vendor:         q.Get("vendor"),
		SourceURL:      q.Get("url"),
	}
	for _, s := range splitParams(q["status"]) {
		status := procurement.Status(s)
		if !status.Valid() {
			h.fail(w, r, &procurement.ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(s)})
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	requests, err := h.svc.ListRequests(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// SaveRequest creates or overwrites a request, optionally submitting it.
func (h *Handler) SaveRequest(w http.ResponseWriter, r *http.Request) {
	var body saveRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	saved, err := h.svc.SaveRequest(r.Context(), ActorFrom(r.Context()), body.ID, body.Payload, body.Submit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if body.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, toRequestDTO(saved))
}

// GetRequest returns one request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.GetRequest(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, r, req, err)
}

// EditRequest lets an admin correct a request's content in any state.
func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	var p procurement.Payload
	if !h.decode(w, r, &p) {
		return
	}
	req, err := h.svc.EditRequest(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), p)
	h.respond(w, r, req, err)
}

// CancelRequest withdraws a draft or pending request.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.CancelRequest(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, r, req, err)
}

// ApproveRequest is the manager approval.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.ApproveAsManager(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, r, req, err)
}

func (h *Handler) SendBackAsManager(w http.ResponseWriter, r *http.Request) {
	h.withComment(w, r, h.svc.SendBackAsManager)
}

func (h *Handler) SendBackAsAdminPre(w http.ResponseWriter, r *http.Request) {
	h.withComment(w, r, h.svc.SendBackAsAdminPre)
}

func (h *Handler) SendBackAsAdminPost(w http.ResponseWriter, r *http.Request) {
	h.withComment(w, r, h.svc.SendBackAsAdminPost)
}

func (h *Handler) RejectAsManager(w http.ResponseWriter, r *http.Request) {
	h.withComment(w, r, h.svc.RejectAsManager)
}

func (h *Handler) RejectAsAdmin(w http.ResponseWriter, r *http.Request) {
	h.withComment(w, r, h.svc.RejectAsAdmin)
}

func (h *Handler) ResubmitToManager(w http.ResponseWriter, r *http.Request) {
	h.withPayload(w, r, h.svc.ResubmitToManager)
}

func (h *Handler) ResubmitToAdmin(w http.ResponseWriter, r *http.Request) {
	h.withPayload(w, r, h.svc.ResubmitToAdmin)
}

// PlaceOrder marks a request ordered with its shipping cost. An absent
// shippingCost means free shipping.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if !h.decodeOptional(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.ShippingCost) == "" {
		body.ShippingCost = "0"
	}
	req, err := h.svc.PlaceOrder(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), body.ShippingCost)
	h.respond(w, r, req, err)
}

func (h *Handler) MarkReady(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.MarkReady(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, r, req, err)
}

func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.MarkComplete(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, r, req, err)
}

type commentOp func(ctx context.Context, actor procurement.Actor, id, comment string) (*procurement.Request, error)

type payloadOp func(ctx context.Context, actor procurement.Actor, id string, p procurement.Payload) (*procurement.Request, error)

func (h *Handler) withComment(w http.ResponseWriter, r *http.Request, op commentOp) {
	var body commentBody
	if !h.decodeOptional(w, r, &body) {
		return
	}
	req, err := op(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), body.Comment)
	h.respond(w, r, req, err)
}

func (h *Handler) withPayload(w http.ResponseWriter, r *http.Request, op payloadOp) {
	var p procurement.Payload
	if !h.decode(w, r, &p) {
		return
	}
	req, err := op(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), p)
	h.respond(w, r, req, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, req *procurement.Request, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// FindProjects lists active projects with reconciled budgets.
func (h *Handler) FindProjects(w http.ResponseWriter, r *http.Request) {
	numbers, err := projectNumbersParam(r.URL.Query()["project"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	projects, err := h.svc.FindProjects(r.Context(), ActorFrom(r.Context()), numbers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject registers a project.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var in procurement.ProjectInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.svc.CreateProject(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

// EditProject updates the descriptive fields of a project. The number in
// the path wins over the body.
func (h *Handler) EditProject(w http.ResponseWriter, r *http.Request) {
	number, ok := h.projectNumber(w, r)
	if !ok {
		return
	}
	var in procurement.ProjectInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ProjectNumber = number
	p, err := h.svc.EditProject(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *Handler) InactivateProject(w http.ResponseWriter, r *http.Request) {
	number, ok := h.projectNumber(w, r)
	if !ok {
		return
	}
	p, err := h.svc.InactivateProject(r.Context(), ActorFrom(r.Context()), number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// GetBudget reconciles and returns a project's budget.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	number, ok := h.projectNumber(w, r)
	if !ok {
		return
	}
	b, err := h.svc.ReconcileBudget(r.Context(), ActorFrom(r.Context()), number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	number, ok := h.projectNumber(w, r)
	if !ok {
		return
	}
	users, err := h.svc.ProjectManagers(r.Context(), ActorFrom(r.Context()), number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// =============================================================================
// COSTS & USERS
// =============================================================================

func (h *Handler) ListCosts(w http.ResponseWriter, r *http.Request) {
	numbers, err := projectNumbersParam(r.URL.Query()["project"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	costs, err := h.svc.ListCosts(r.Context(), ActorFrom(r.Context()), numbers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]CostDTO, len(costs))
	for i, c := range costs {
		dtos[i] = toCostDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddCost records a refund, reimbursement or new budget.
func (h *Handler) AddCost(w http.ResponseWriter, r *http.Request) {
	var body costBody
	if !h.decode(w, r, &body) {
		return
	}
	amount, err := money.ParseLenient(body.Amount)
	if err != nil {
		h.fail(w, r, &procurement.ValidationError{Field: "amount", Message: "is not a dollar amount", Err: err})
		return
	}
	c, err := h.svc.AddCost(r.Context(), ActorFrom(r.Context()), body.ProjectNumber, procurement.CostType(body.Type), amount, body.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostDTO(c))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

func (h *Handler) SaveUser(w http.ResponseWriter, r *http.Request) {
	var body userBody
	if !h.decode(w, r, &body) {
		return
	}
	u := &procurement.User{
		Email:          strings.TrimSpace(body.Email),
		Role:           procurement.Role(body.Role),
		FirstName:      body.FirstName,
		LastName:       body.LastName,
		ProjectNumbers: body.ProjectNumbers,
	}
	if err := h.svc.SaveUser(r.Context(), ActorFrom(r.Context()), u); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func toUserDTOs(users []*procurement.User) []UserDTO {
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// fail maps a core error onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var verr *procurement.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Field: verr.Field, Details: err.Error()}
	case errors.Is(err, procurement.ErrValidation), errors.Is(err, procurement.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid argument", Details: err.Error()}
	case errors.Is(err, procurement.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Details: err.Error()}
	case errors.Is(err, procurement.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found", Details: err.Error()}
	case errors.Is(err, procurement.ErrPreconditionFailed), errors.Is(err, procurement.ErrDuplicateProject):
		return http.StatusConflict, ErrorResponse{Error: "conflict", Details: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
	return false
}

func (h *Handler) projectNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		h.fail(w, r, &procurement.ValidationError{Field: "projectNumber", Message: "must be a positive number", Err: err})
		return 0, false
	}
	return n, true
}

// projectNumbersParam parses ?project=1&project=2 or ?project=1,2. No
// parameter yields nil, meaning every visible project.
func projectNumbersParam(values []string) ([]int, error) {
	parts := splitParams(values)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, &procurement.ValidationError{Field: "project", Message: "must be a number", Err: err}
		}
		out = append(out, n)
	}
	return out, nil
}

func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
