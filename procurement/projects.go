package procurement

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/utdesign/procurement-engine/money"
)

// ProjectInput is the admin-editable part of a project.
type ProjectInput struct {
	ProjectNumber int      `json:"projectNumber"`
	SponsorName   string   `json:"sponsorName"`
	ProjectName   string   `json:"projectName"`
	MembersEmails []string `json:"membersEmails"`
	DefaultBudget string   `json:"defaultBudget"`
}

func (in ProjectInput) validate() error {
	if in.ProjectNumber <= 0 {
		return invalidField("projectNumber", "must be a positive number")
	}
	if strings.TrimSpace(in.ProjectName) == "" {
		return invalidField("projectName", "is required")
	}
	for i, m := range in.MembersEmails {
		if _, err := mail.ParseAddress(m); err != nil {
			return &ValidationError{Field: fmt.Sprintf("membersEmails[%d]", i), Message: "is not an email address", Err: err}
		}
	}
	return nil
}

// CreateProject registers an active project with its default budget.
func (s *Service) CreateProject(ctx context.Context, actor Actor, in ProjectInput) (*Project, error) {
	if err := authorize(actor, OpCreateProject); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	budget, err := money.ParseLenient(in.DefaultBudget)
	if err != nil {
		return nil, &ValidationError{Field: "defaultBudget", Message: "is not a dollar amount", Err: err}
	}

	p := &Project{
		ProjectNumber:        in.ProjectNumber,
		SponsorName:          strings.TrimSpace(in.SponsorName),
		ProjectName:          strings.TrimSpace(in.ProjectName),
		MembersEmails:        in.MembersEmails,
		DefaultBudgetCents:   budget,
		AvailableBudgetCents: budget,
		PendingBudgetCents:   budget,
		Status:               ProjectActive,
		CreatedAt:            s.now(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info().Str("actor", actor.Email).Int("project_number", p.ProjectNumber).Msg("project created")
	s.notifyProject(ctx, OpCreateProject, actor, p)
	return p, nil
}

// EditProject updates a project's name, sponsor and members. Budgets only
// change through the cost ledger.
func (s *Service) EditProject(ctx context.Context, actor Actor, in ProjectInput) (*Project, error) {
	if err := authorize(actor, OpEditProject); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.mustGetProject(ctx, in.ProjectNumber)
	if err != nil {
		return nil, err
	}

	p.SponsorName = strings.TrimSpace(in.SponsorName)
	p.ProjectName = strings.TrimSpace(in.ProjectName)
	p.MembersEmails = in.MembersEmails
	if err := s.store.UpdateProjectDetails(ctx, p); err != nil {
		return nil, fmt.Errorf("updating project %d: %w", p.ProjectNumber, err)
	}

	s.notifyProject(ctx, OpEditProject, actor, p)
	return p, nil
}

// InactivateProject stops a project from accepting requests. Projects are
// never deleted.
func (s *Service) InactivateProject(ctx context.Context, actor Actor, projectNumber int) (*Project, error) {
	if err := authorize(actor, OpInactivateProject); err != nil {
		return nil, err
	}
	p, err := s.mustGetProject(ctx, projectNumber)
	if err != nil {
		return nil, err
	}
	if p.Status == ProjectInactive {
		return p, nil
	}

	p.Status = ProjectInactive
	if err := s.store.UpdateProjectDetails(ctx, p); err != nil {
		return nil, fmt.Errorf("inactivating project %d: %w", projectNumber, err)
	}

	s.log.Info().Str("actor", actor.Email).Int("project_number", projectNumber).Msg("project inactivated")
	s.notifyProject(ctx, OpInactivateProject, actor, p)
	return p, nil
}

// FindProjects lists the active projects visible to the actor, each with a
// freshly reconciled budget.
func (s *Service) FindProjects(ctx context.Context, actor Actor, projectNumbers []int) ([]*Project, error) {
	scope, ok := scopeProjects(actor, projectNumbers)
	if !ok {
		return []*Project{}, nil
	}
	projects, err := s.store.ListProjects(ctx, ProjectFilter{ProjectNumbers: scope, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	for _, p := range projects {
		b, err := s.budget.Reconcile(ctx, p.ProjectNumber)
		if err != nil {
			return nil, err
		}
		p.DefaultBudgetCents = b.DefaultBudgetCents
		p.AvailableBudgetCents = b.AvailableBudgetCents
		p.PendingBudgetCents = b.PendingBudgetCents
	}
	return projects, nil
}

// ProjectManagers returns the technical managers assigned to a project.
func (s *Service) ProjectManagers(ctx context.Context, actor Actor, projectNumber int) ([]*User, error) {
	if !actor.CanAccess(projectNumber) {
		return nil, fmt.Errorf("%w: project %d", ErrForbidden, projectNumber)
	}
	return s.store.UsersWithRole(ctx, RoleManager, projectNumber)
}

// SaveUser adds or replaces a directory entry.
func (s *Service) SaveUser(ctx context.Context, actor Actor, u *User) error {
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: only admins manage users", ErrForbidden)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return &ValidationError{Field: "email", Message: "is not an email address", Err: err}
	}
	if !u.Role.Valid() {
		return invalidField("role", fmt.Sprintf("unknown role %q", u.Role))
	}
	return s.store.SaveUser(ctx, u)
}

// ListUsers returns the directory.
func (s *Service) ListUsers(ctx context.Context, actor Actor) ([]*User, error) {
	if actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: only admins list users", ErrForbidden)
	}
	return s.store.ListUsers(ctx)
}

func (s *Service) mustGetProject(ctx context.Context, projectNumber int) (*Project, error) {
	p, err := s.store.GetProject(ctx, projectNumber)
	if err != nil {
		return nil, fmt.Errorf("loading project %d: %w", projectNumber, err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %d: %w", projectNumber, ErrNotFound)
	}
	return p, nil
}

func (s *Service) notifyProject(ctx context.Context, op Operation, actor Actor, p *Project) {
	if len(p.MembersEmails) == 0 {
		return
	}
	for _, n := range PlanNotifications(op, NotEscalated) {
		err := s.notifier.Notify(ctx, Notification{
			Operation:     op,
			Audience:      n.Audience,
			Action:        n.Action,
			Recipients:    p.MembersEmails,
			ProjectNumber: p.ProjectNumber,
			Actor:         actor.Email,
			OccurredAt:    s.now(),
		})
		if err != nil {
			s.log.Warn().Err(err).Str("operation", string(op)).Msg("notification delivery failed")
		}
	}
}
