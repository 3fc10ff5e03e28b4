/*
ledger.go - Cost ledger

PURPOSE:
  Records budget adjustments made by admins outside the request lifecycle:
  reimbursements, refunds and budget resets.

INVARIANTS:
  - Costs are append-only. There is no edit or delete.
  - Amounts are non-negative cents; the type decides the sign.
  - A "new budget" cost replaces the project's default budget.
  - Every recorded cost is followed by a reconciliation of its project.

SEE ALSO:
  - budget.go: How costs feed available and pending budgets
  - store.go: CostStore and ProjectStore contracts
*/
package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CostLedger appends budget adjustments and keeps the project budget in step.
type CostLedger struct {
	Projects ProjectStore
	Costs    CostStore
	Budget   *Reconciler
	Now      func() time.Time
}

// AddCost validates and records a cost, then reconciles the project.
// A "new budget" cost replaces the project's default budget.
func (l *CostLedger) AddCost(ctx context.Context, actor Actor, projectNumber int, typ CostType, amountCents int64, comment string) (*Cost, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: cost type %q", ErrInvalidArgument, typ)
	}
	if amountCents < 0 {
		return nil, fmt.Errorf("%w: cost amount must not be negative", ErrInvalidArgument)
	}

	project, err := l.Projects.GetProject(ctx, projectNumber)
	if err != nil {
		return nil, fmt.Errorf("loading project %d: %w", projectNumber, err)
	}
	if project == nil {
		return nil, fmt.Errorf("project %d: %w", projectNumber, ErrNotFound)
	}

	c := &Cost{
		ID:            uuid.NewString(),
		ProjectNumber: projectNumber,
		Type:          typ,
		AmountCents:   amountCents,
		Comment:       strings.TrimSpace(comment),
		Actor:         actor.Email,
		Timestamp:     l.Now(),
	}
	if err := l.Costs.RecordCost(ctx, c); err != nil {
		return nil, fmt.Errorf("recording cost: %w", err)
	}

	if _, err := l.Budget.Reconcile(ctx, projectNumber); err != nil {
		return c, fmt.Errorf("reconciling after cost: %w", err)
	}
	return c, nil
}

// ListCosts returns the ledger for the given projects, restricted to what
// the actor may see. A nil projectNumbers means every visible project.
func (l *CostLedger) ListCosts(ctx context.Context, actor Actor, projectNumbers []int) ([]*Cost, error) {
	scope, ok := scopeProjects(actor, projectNumbers)
	if !ok {
		return []*Cost{}, nil
	}
	costs, err := l.Costs.ListCosts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing costs: %w", err)
	}
	return costs, nil
}

// scopeProjects intersects the requested projects with the actor's.
// It returns nil for "all" (admins only) and ok=false when nothing is visible.
func scopeProjects(actor Actor, requested []int) ([]int, bool) {
	if actor.Role == RoleAdmin {
		return requested, true
	}
	if requested == nil {
		requested = actor.ProjectNumbers
	}
	scope := make([]int, 0, len(requested))
	for _, n := range requested {
		if actor.CanAccess(n) {
			scope = append(scope, n)
		}
	}
	return scope, len(scope) > 0
}
