/*
Package procurement is the core of the procurement request engine.

PURPOSE:
  Students submit purchase requests against a project budget. A request is
  routed through technical-manager approval, then administrator approval and
  fulfillment. This package owns:

    - the request lifecycle state machine (lifecycle.go, service.go)
    - the budget reconciliation engine (budget.go)
    - the append-only cost ledger (ledger.go)
    - request sanitization (sanitize.go)
    - deciding who is notified about what (notify.go)

  Persistence, delivery and transport live elsewhere behind the interfaces in
  store.go.

KEY CONCEPTS:
  Request:    A purchase request with line items, totals and a status.
  History:    Append-only audit trail of status changes on a request.
  Escalation: How far up the approval chain a request has travelled (oic).
              Determines who is told when the request is cancelled/rejected.
  Project:    Owns a default budget. Available and pending budgets are
              derived from requests and costs, never edited directly.
  Cost:       Immutable budget adjustment (refund, reimbursement, new budget).

MONEY:
  All amounts are int64 cents. See package money for string conversion.

SEE ALSO:
  - store.go: persistence contracts
  - service.go: the operation surface
*/
package procurement

import (
	"slices"
	"time"
)

// =============================================================================
// REQUEST STATUS
// =============================================================================

// Status is the lifecycle state of a request.
type Status string

const (
	StatusSaved             Status = "saved"
	StatusPending           Status = "pending"
	StatusManagerApproved   Status = "manager approved"
	StatusUpdatesForManager Status = "updates for manager"
	StatusUpdatesForAdmin   Status = "updates for admin"
	StatusOrdered           Status = "ordered"
	StatusReadyForPickup    Status = "ready for pickup"
	StatusComplete          Status = "complete"
	StatusRejected          Status = "rejected"
	StatusCancelled         Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusSaved,
	StatusPending,
	StatusManagerApproved,
	StatusUpdatesForManager,
	StatusUpdatesForAdmin,
	StatusOrdered,
	StatusReadyForPickup,
	StatusComplete,
	StatusRejected,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// IsTerminal reports whether no transition accepts s as its source state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

// Committed reports whether money for a request in this status has been spent.
func (s Status) Committed() bool {
	return s == StatusOrdered || s == StatusReadyForPickup || s == StatusComplete
}

// =============================================================================
// ESCALATION
// =============================================================================

// Escalation records the highest approval level that has acted on a request.
// It only ever increases.
type Escalation int

const (
	NotEscalated    Escalation = 0
	ManagerInvolved Escalation = 1
	AdminInvolved   Escalation = 2
)

func (e Escalation) String() string {
	switch e {
	case NotEscalated:
		return "not escalated"
	case ManagerInvolved:
		return "manager involved"
	case AdminInvolved:
		return "admin involved"
	default:
		return "unknown"
	}
}

// =============================================================================
// ACTORS
// =============================================================================

// Role is the authorization role of an actor.
type Role string

const (
	RoleStudent Role = "student"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleManager || r == RoleAdmin
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	Email          string
	Role           Role
	ProjectNumbers []int
}

// CanAccess reports whether the actor may see data for the project.
// Admins can see every project.
func (a Actor) CanAccess(projectNumber int) bool {
	return a.Role == RoleAdmin || slices.Contains(a.ProjectNumbers, projectNumber)
}

// =============================================================================
// REQUESTS
// =============================================================================

// Item is one line of a request.
type Item struct {
	Description    string `json:"description"`
	PartNo         string `json:"partNo"`
	ItemURL        string `json:"itemURL"`
	Quantity       int    `json:"quantity"`
	UnitCostCents  int64  `json:"unitCostCents"`
	TotalCostCents int64  `json:"totalCostCents"`
}

// HistoryEntry is one immutable audit record on a request.
type HistoryEntry struct {
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment"`
	OldState  Status    `json:"oldState"`
	NewState  Status    `json:"newState"`
}

// Request is a procurement request.
type Request struct {
	ID             string
	RequestNumber  int64
	ProjectNumber  int
	Manager        string
	Vendor         string
	SourceURL      string
	Justification  string
	AdditionalInfo string
	Items          []Item
	SubtotalCents  int64
	ShippingCents  int64
	TotalCents     int64
	Status         Status
	History        []HistoryEntry
	OIC            Escalation
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so callers can never alias store state.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = slices.Clone(r.Items)
	c.History = slices.Clone(r.History)
	return &c
}

// RequestFilter narrows request listings. Zero values mean "no constraint".
type RequestFilter struct {
	ProjectNumbers  []int
	Statuses        []Status
	ExcludeStatuses []Status
	Vendor          string
	SourceURL       string
}

// Matches reports whether r passes the filter.
func (f RequestFilter) Matches(r *Request) bool {
	if f.ProjectNumbers != nil && !slices.Contains(f.ProjectNumbers, r.ProjectNumber) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if slices.Contains(f.ExcludeStatuses, r.Status) {
		return false
	}
	if f.Vendor != "" && f.Vendor != r.Vendor {
		return false
	}
	if f.SourceURL != "" && f.SourceURL != r.SourceURL {
		return false
	}
	return true
}

// =============================================================================
// PROJECTS, COSTS, USERS
// =============================================================================

// ProjectStatus marks whether a project accepts new requests.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectInactive ProjectStatus = "inactive"
)

// Project owns a budget. AvailableBudgetCents and PendingBudgetCents are
// derived by reconciliation and are only written by the reconciler.
type Project struct {
	ProjectNumber        int
	SponsorName          string
	ProjectName          string
	MembersEmails        []string
	DefaultBudgetCents   int64
	AvailableBudgetCents int64
	PendingBudgetCents   int64
	Status               ProjectStatus
	CreatedAt            time.Time
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	ProjectNumbers []int
	ActiveOnly     bool
}

// Matches reports whether p passes the filter.
func (f ProjectFilter) Matches(p *Project) bool {
	if f.ProjectNumbers != nil && !slices.Contains(f.ProjectNumbers, p.ProjectNumber) {
		return false
	}
	return !f.ActiveOnly || p.Status == ProjectActive
}

// CostType is the kind of budget adjustment.
type CostType string

const (
	CostRefund        CostType = "refund"
	CostReimbursement CostType = "reimbursement"
	CostNewBudget     CostType = "new budget"
)

// Valid reports whether t is a known cost type.
func (t CostType) Valid() bool {
	return t == CostRefund || t == CostReimbursement || t == CostNewBudget
}

// Cost is an immutable budget adjustment.
type Cost struct {
	ID            string
	ProjectNumber int
	Type          CostType
	AmountCents   int64
	Comment       string
	Actor         string
	Timestamp     time.Time
}

// User is a directory entry used to resolve notification recipients.
type User struct {
	Email          string
	Role           Role
	FirstName      string
	LastName       string
	ProjectNumbers []int
}
