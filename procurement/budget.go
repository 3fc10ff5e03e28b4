/*
budget.go - Budget reconciliation

PURPOSE:
  A project stores only its defaultBudget as authoritative. Available and
  pending budgets are derived from the requests and the cost ledger, written
  back to the project as a cache, and recomputed on every read that matters.

FORMULA:
  pendingCosts = sum(totalCents) over requests counted by the PendingPolicy
  actualCosts  = sum(totalCents) over ordered / ready for pickup / complete
  miscCosts    = sum(reimbursements) - sum(refunds)     (new budget ignored)

  available = default - actualCosts  - miscCosts
  pending   = default - pendingCosts - miscCosts

  A refund puts money back, so it lowers miscCosts and raises both budgets.

PENDING POLICY:
  PendingAllRequests counts every request of the project, including drafts,
  cancelled and rejected ones. It is the historical behavior and the default.
  PendingExcludeClosed skips saved, cancelled and rejected requests.
*/
package procurement

import (
	"context"
	"fmt"
	"strings"
)

// PendingPolicy decides which requests count toward pending costs.
type PendingPolicy string

const (
	PendingAllRequests   PendingPolicy = "all"
	PendingExcludeClosed PendingPolicy = "exclude-closed"
)

// ParsePendingPolicy maps a config value to a policy. Empty selects the default.
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch PendingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PendingAllRequests:
		return PendingAllRequests, nil
	case PendingExcludeClosed:
		return PendingExcludeClosed, nil
	default:
		return "", fmt.Errorf("%w: unknown pending budget policy %q", ErrInvalidArgument, s)
	}
}

func (p PendingPolicy) counts(s Status) bool {
	if p == PendingExcludeClosed {
		return s != StatusSaved && s != StatusCancelled && s != StatusRejected
	}
	return true
}

// Budget is the result of reconciling one project.
type Budget struct {
	ProjectNumber        int   `json:"projectNumber"`
	DefaultBudgetCents   int64 `json:"defaultBudgetCents"`
	AvailableBudgetCents int64 `json:"availableBudgetCents"`
	PendingBudgetCents   int64 `json:"pendingBudgetCents"`
	ActualCostsCents     int64 `json:"actualCostsCents"`
	PendingCostsCents    int64 `json:"pendingCostsCents"`
	MiscCostsCents       int64 `json:"miscCostsCents"`
}

// ComputeBudget derives a project's budget figures. It is pure.
func ComputeBudget(project *Project, requests []*Request, costs []*Cost, policy PendingPolicy) Budget {
	b := Budget{
		ProjectNumber:      project.ProjectNumber,
		DefaultBudgetCents: project.DefaultBudgetCents,
	}

	for _, r := range requests {
		if r.ProjectNumber != project.ProjectNumber {
			continue
		}
		if policy.counts(r.Status) {
			b.PendingCostsCents += r.TotalCents
		}
		if r.Status.Committed() {
			b.ActualCostsCents += r.TotalCents
		}
	}

	for _, c := range costs {
		if c.ProjectNumber != project.ProjectNumber {
			continue
		}
		switch c.Type {
		case CostRefund:
			b.MiscCostsCents -= c.AmountCents
		case CostReimbursement:
			b.MiscCostsCents += c.AmountCents
		}
	}

	b.AvailableBudgetCents = b.DefaultBudgetCents - b.ActualCostsCents - b.MiscCostsCents
	b.PendingBudgetCents = b.DefaultBudgetCents - b.PendingCostsCents - b.MiscCostsCents
	return b
}

// Reconciler recomputes and persists derived budgets.
type Reconciler struct {
	Projects ProjectStore
	Requests RequestStore
	Costs    CostStore
	Policy   PendingPolicy
}

// Reconcile recomputes the budget of one project and writes it back.
func (r *Reconciler) Reconcile(ctx context.Context, projectNumber int) (Budget, error) {
	project, err := r.Projects.GetProject(ctx, projectNumber)
	if err != nil {
		return Budget{}, fmt.Errorf("loading project %d: %w", projectNumber, err)
	}
	if project == nil {
		return Budget{}, fmt.Errorf("project %d: %w", projectNumber, ErrNotFound)
	}

	requests, err := r.Requests.ListRequests(ctx, RequestFilter{ProjectNumbers: []int{projectNumber}})
	if err != nil {
		return Budget{}, fmt.Errorf("loading requests for project %d: %w", projectNumber, err)
	}
	costs, err := r.Costs.ListCosts(ctx, []int{projectNumber})
	if err != nil {
		return Budget{}, fmt.Errorf("loading costs for project %d: %w", projectNumber, err)
	}

	b := ComputeBudget(project, requests, costs, r.Policy)
	if err := r.Projects.SetDerivedBudget(ctx, projectNumber, b.AvailableBudgetCents, b.PendingBudgetCents); err != nil {
		return Budget{}, fmt.Errorf("saving budget for project %d: %w", projectNumber, err)
	}
	return b, nil
}
