/*
store.go - Persistence contracts for the procurement core

PURPOSE:
  The core never talks to a database directly. Implementations:
    - procurement/store: in-memory (tests, local dev)
    - store/sqlite:      SQLite via database/sql
    - store/redis:       Sequencer only

ATOMIC TRANSITIONS:
  RequestStore.Transition is the only way a stored request changes. An
  implementation must, as one atomic unit:
    1. load the record
    2. check its status is in Transition.From (else ErrPreconditionFailed)
    3. apply the mutation with Transition.Apply
    4. persist it conditioned on (id, observed status)
    5. append the history entry
    6. return the new value
  Two concurrent transitions on the same record can never both succeed
  from the same observed status.

APPEND-ONLY:
  History entries and cost records are never updated or deleted.
  Requests and projects are never deleted.
*/
package procurement

import (
	"context"
	"slices"
	"time"

	"github.com/utdesign/procurement-engine/money"
)

// =============================================================================
// INTERFACES
// =============================================================================

// RequestStore persists requests and their history.
type RequestStore interface {
	// CreateRequest inserts a new request together with its history.
	CreateRequest(ctx context.Context, r *Request) error

	// GetRequest returns nil, nil when the request doesn't exist.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// ListRequests returns requests matching the filter, ordered by request number.
	ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error)

	// Transition atomically applies t and returns the updated request.
	Transition(ctx context.Context, t Transition) (*Request, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error

	// GetProject returns nil, nil when the project doesn't exist.
	GetProject(ctx context.Context, projectNumber int) (*Project, error)

	ListProjects(ctx context.Context, filter ProjectFilter) ([]*Project, error)

	// UpdateProjectDetails overwrites the descriptive fields and status.
	// Budget columns are untouched.
	UpdateProjectDetails(ctx context.Context, p *Project) error

	// SetDerivedBudget writes the reconciled available and pending budgets.
	SetDerivedBudget(ctx context.Context, projectNumber int, availableCents, pendingCents int64) error
}

// CostStore persists the cost ledger.
type CostStore interface {
	// RecordCost appends c. When c.Type is CostNewBudget the project's default
	// budget is overwritten with c.AmountCents in the same transaction.
	RecordCost(ctx context.Context, c *Cost) error

	// ListCosts returns costs for the given projects (all when nil),
	// oldest first.
	ListCosts(ctx context.Context, projectNumbers []int) ([]*Cost, error)
}

// Directory resolves people for notification routing.
type Directory interface {
	SaveUser(ctx context.Context, u *User) error
	ListUsers(ctx context.Context) ([]*User, error)
	// UsersWithRole returns users with the role, restricted to a project
	// when projectNumber is non-zero.
	UsersWithRole(ctx context.Context, role Role, projectNumber int) ([]*User, error)
}

// Sequencer hands out monotonically increasing request numbers.
type Sequencer interface {
	NextRequestNumber(ctx context.Context) (int64, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	RequestStore
	ProjectStore
	CostStore
	Directory
	Sequencer
}

// =============================================================================
// TRANSITION
// =============================================================================

// EscalationRule raises oic from From to To. It never lowers it.
type EscalationRule struct {
	From Escalation
	To   Escalation
}

// Transition is one conditional mutation of a stored request.
type Transition struct {
	RequestID string
	Operation Operation

	// From lists the statuses the record may be in. Empty accepts any status.
	From []Status

	// To is the new status. Empty keeps the current status.
	To Status

	// Entry, when set, is appended to history. OldState and NewState are
	// filled in from the observed and resulting status.
	Entry *HistoryEntry

	// ChangeEntry is appended instead of a nil Entry, but only when the
	// status actually changes.
	ChangeEntry *HistoryEntry

	// Escalate, when set, raises oic if it currently equals Escalate.From.
	Escalate *EscalationRule

	// Content, when set, replaces the payload fields of the request.
	// Shipping is kept and the total recomputed from the new subtotal.
	Content *Request

	// ShippingCents, when set, records shipping. The total becomes
	// subtotal + shipping.
	ShippingCents *int64

	At time.Time
}

// Apply mutates r in place. It returns ErrPreconditionFailed (or a
// ValidationError when the total would overflow), leaving r
// untouched, when r's status is not accepted.
func (t Transition) Apply(r *Request) error {
	if len(t.From) > 0 && !slices.Contains(t.From, r.Status) {
		return &PreconditionError{RequestID: r.ID, Operation: t.Operation, Actual: r.Status, Expected: t.From}
	}

	old := r.Status
	next := t.To
	if next == "" {
		next = old
	}

	subtotal, shipping := r.SubtotalCents, r.ShippingCents
	if t.Content != nil {
		subtotal = t.Content.SubtotalCents
	}
	if t.ShippingCents != nil {
		shipping = *t.ShippingCents
	}
	total, err := money.Sum(subtotal, shipping)
	if err != nil {
		return &ValidationError{Field: "shippingCost", Message: "pushes the total out of range", Err: err}
	}

	if c := t.Content; c != nil {
		r.ProjectNumber = c.ProjectNumber
		r.Manager = c.Manager
		r.Vendor = c.Vendor
		r.SourceURL = c.SourceURL
		r.Justification = c.Justification
		r.AdditionalInfo = c.AdditionalInfo
		r.Items = slices.Clone(c.Items)
	}
	r.SubtotalCents = subtotal
	r.ShippingCents = shipping
	r.TotalCents = total

	if e := t.Escalate; e != nil && r.OIC == e.From && e.To > r.OIC {
		r.OIC = e.To
	}

	r.Status = next
	r.UpdatedAt = t.At
	logged := t.Entry
	if logged == nil && next != old {
		logged = t.ChangeEntry
	}
	if logged != nil {
		entry := *logged
		entry.OldState = old
		entry.NewState = next
		if entry.Timestamp.IsZero() {
			entry.Timestamp = t.At
		}
		r.History = append(r.History, entry)
	}
	return nil
}
