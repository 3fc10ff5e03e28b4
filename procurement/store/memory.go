// Package store provides an in-memory procurement.Store.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/utdesign/procurement-engine/procurement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	requests map[string]*procurement.Request
	projects map[int]*procurement.Project
	costs    []*procurement.Cost
	users    map[string]*procurement.User
	sequence int64
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]*procurement.Request),
		projects: make(map[int]*procurement.Project),
		users:    make(map[string]*procurement.User),
	}
}

var _ procurement.Store = (*Memory)(nil)

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r *procurement.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*procurement.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id].Clone(), nil
}

func (m *Memory) ListRequests(_ context.Context, filter procurement.RequestFilter) ([]*procurement.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*procurement.Request, 0)
	for _, r := range m.requests {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestNumber < out[j].RequestNumber })
	return out, nil
}

// Transition applies t to a copy and swaps it in only if it succeeds, so a
// failed precondition leaves the stored record untouched.
func (m *Memory) Transition(_ context.Context, t procurement.Transition) (*procurement.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[t.RequestID]
	if !ok {
		return nil, procurement.MissingRequest(t.RequestID)
	}
	next := current.Clone()
	if err := t.Apply(next); err != nil {
		return nil, err
	}
	m.requests[t.RequestID] = next
	return next.Clone(), nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) CreateProject(_ context.Context, p *procurement.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.projects[p.ProjectNumber]; exists {
		return fmt.Errorf("project %d: %w", p.ProjectNumber, procurement.ErrDuplicateProject)
	}
	m.projects[p.ProjectNumber] = cloneProject(p)
	return nil
}

func (m *Memory) GetProject(_ context.Context, projectNumber int) (*procurement.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[projectNumber]
	if !ok {
		return nil, nil
	}
	return cloneProject(p), nil
}

func (m *Memory) ListProjects(_ context.Context, filter procurement.ProjectFilter) ([]*procurement.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*procurement.Project, 0)
	for _, p := range m.projects {
		if filter.Matches(p) {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectNumber < out[j].ProjectNumber })
	return out, nil
}

func (m *Memory) UpdateProjectDetails(_ context.Context, p *procurement.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.projects[p.ProjectNumber]
	if !ok {
		return fmt.Errorf("project %d: %w", p.ProjectNumber, procurement.ErrNotFound)
	}
	stored.SponsorName = p.SponsorName
	stored.ProjectName = p.ProjectName
	stored.MembersEmails = slices.Clone(p.MembersEmails)
	stored.Status = p.Status
	return nil
}

func (m *Memory) SetDerivedBudget(_ context.Context, projectNumber int, availableCents, pendingCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.projects[projectNumber]
	if !ok {
		return fmt.Errorf("project %d: %w", projectNumber, procurement.ErrNotFound)
	}
	stored.AvailableBudgetCents = availableCents
	stored.PendingBudgetCents = pendingCents
	return nil
}

func cloneProject(p *procurement.Project) *procurement.Project {
	c := *p
	c.MembersEmails = slices.Clone(p.MembersEmails)
	return &c
}

// =============================================================================
// COSTS - Append-only
// =============================================================================

func (m *Memory) RecordCost(_ context.Context, c *procurement.Cost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	project, ok := m.projects[c.ProjectNumber]
	if !ok {
		return fmt.Errorf("project %d: %w", c.ProjectNumber, procurement.ErrNotFound)
	}
	stored := *c
	m.costs = append(m.costs, &stored)
	if c.Type == procurement.CostNewBudget {
		project.DefaultBudgetCents = c.AmountCents
	}
	return nil
}

func (m *Memory) ListCosts(_ context.Context, projectNumbers []int) ([]*procurement.Cost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*procurement.Cost, 0)
	for _, c := range m.costs {
		if projectNumbers == nil || slices.Contains(projectNumbers, c.ProjectNumber) {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

// =============================================================================
// DIRECTORY & SEQUENCE
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u *procurement.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *u
	stored.ProjectNumbers = slices.Clone(u.ProjectNumbers)
	m.users[u.Email] = &stored
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]*procurement.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*procurement.User, 0, len(m.users))
	for _, u := range m.users {
		copied := *u
		copied.ProjectNumbers = slices.Clone(u.ProjectNumbers)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *Memory) UsersWithRole(ctx context.Context, role procurement.Role, projectNumber int) ([]*procurement.User, error) {
	all, err := m.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*procurement.User, 0)
	for _, u := range all {
		if u.Role != role {
			continue
		}
		if projectNumber != 0 && !slices.Contains(u.ProjectNumbers, projectNumber) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *Memory) NextRequestNumber(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return m.sequence, nil
}
