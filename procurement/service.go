/*
service.go - The operation surface of the procurement core

PURPOSE:
  Service ties the pieces together. Every operation takes the acting user
  explicitly, checks the role against the transition table, performs one
  atomic store transition and then tells the right people.

OPERATION FLOW:
  1. authorize(actor, op)           -> ErrForbidden
  2. sanitize payload if any        -> ErrValidation
  3. store.Transition(...)          -> ErrPreconditionFailed / ErrNotFound
  4. reconcile budget (orders only)
  5. notify (failures logged, never returned)

  Nothing is retried. A caller that loses a race gets ErrPreconditionFailed
  and may re-read the request.

SEE ALSO:
  - lifecycle.go: the transition table
  - notify.go: audiences per operation
*/
package procurement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/money"
)

// Service implements every procurement operation.
type Service struct {
	store     Store
	sequence  Sequencer
	sanitizer *Sanitizer
	budget    *Reconciler
	ledger    *CostLedger
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where notifications are delivered.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSequencer replaces the store's request-number sequence.
func WithSequencer(seq Sequencer) Option {
	return func(s *Service) { s.sequence = seq }
}

// WithPendingPolicy selects which requests count toward pending costs.
func WithPendingPolicy(p PendingPolicy) Option {
	return func(s *Service) { s.budget.Policy = p }
}

// NewService creates a service on top of a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		sequence:  store,
		sanitizer: &Sanitizer{Projects: store},
		budget:    &Reconciler{Projects: store, Requests: store, Costs: store, Policy: PendingAllRequests},
		notifier:  NotifierFunc(func(context.Context, Notification) error { return nil }),
		log:       zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = &CostLedger{Projects: store, Costs: store, Budget: s.budget, Now: s.now}
	return s
}

// =============================================================================
// SAVE / SUBMIT / EDIT
// =============================================================================

// SaveRequest creates (id == "") or overwrites a student's request. With
// submit the payload must be complete and the request moves to pending;
// without it the request is stored as a draft.
func (s *Service) SaveRequest(ctx context.Context, actor Actor, id string, p Payload, submit bool) (*Request, error) {
	op := OpSave
	if submit {
		op = OpSubmit
	}
	if err := authorize(actor, op); err != nil {
		return nil, err
	}

	content, err := s.sanitizer.Sanitize(ctx, p, !submit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var entry, draft *HistoryEntry
	if submit {
		entry = &HistoryEntry{Actor: actor.Email, Timestamp: now, Comment: "submitted by " + actor.Email}
	} else {
		draft = &HistoryEntry{Actor: actor.Email, Timestamp: now, Comment: "saved as draft by " + actor.Email}
	}

	var saved *Request
	if id == "" {
		saved, err = s.create(ctx, content, Target(op), entry, now)
	} else {
		saved, err = s.store.Transition(ctx, Transition{
			RequestID:   id,
			Operation:   op,
			From:        rules[op].from,
			To:          Target(op),
			Entry:       entry,
			ChangeEntry: draft,
			Content:     content,
			At:          now,
		})
	}
	if err != nil {
		return nil, err
	}

	s.logTransition(op, actor, saved)
	if submit {
		s.notify(ctx, op, actor, saved, "")
	}
	return saved, nil
}

func (s *Service) create(ctx context.Context, content *Request, status Status, entry *HistoryEntry, now time.Time) (*Request, error) {
	number, err := s.sequence.NextRequestNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating request number: %w", err)
	}

	r := content.Clone()
	r.ID = uuid.NewString()
	r.RequestNumber = number
	r.Status = status
	r.OIC = NotEscalated
	r.ShippingCents = 0
	r.TotalCents = r.SubtotalCents
	r.History = []HistoryEntry{}
	r.CreatedAt = now
	r.UpdatedAt = now
	if entry != nil {
		e := *entry
		e.OldState = StatusSaved
		e.NewState = status
		r.History = append(r.History, e)
	}

	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return r.Clone(), nil
}

// EditRequest lets an admin rewrite a request's content without changing
// its status. The edit only lands if the status is unchanged since it was read.
func (s *Service) EditRequest(ctx context.Context, actor Actor, id string, p Payload) (*Request, error) {
	if err := authorize(actor, OpAdminEdit); err != nil {
		return nil, err
	}
	content, err := s.sanitizer.Sanitize(ctx, p, false)
	if err != nil {
		return nil, err
	}
	current, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.store.Transition(ctx, Transition{
		RequestID: id,
		Operation: OpAdminEdit,
		From:      []Status{current.Status},
		Entry:     &HistoryEntry{Actor: actor.Email, Timestamp: now, Comment: "edited by " + actor.Email},
		Content:   content,
		At:        now,
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(OpAdminEdit, actor, updated)
	s.notify(ctx, OpAdminEdit, actor, updated, "")
	return updated, nil
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// CancelRequest cancels a draft or a request sent back for updates.
func (s *Service) CancelRequest(ctx context.Context, actor Actor, id string) (*Request, error) {
	return s.transition(ctx, actor, OpCancel, Transition{RequestID: id}, "")
}

// ApproveAsManager forwards a pending request to the admins.
func (s *Service) ApproveAsManager(ctx context.Context, actor Actor, id string) (*Request, error) {
	return s.transition(ctx, actor, OpApproveManager, Transition{RequestID: id}, "")
}

// SendBackAsManager returns a pending request to the team.
func (s *Service) SendBackAsManager(ctx context.Context, actor Actor, id, comment string) (*Request, error) {
	return s.transition(ctx, actor, OpSendBackManager, Transition{RequestID: id}, comment)
}

// SendBackAsAdminPre returns an approved request to the team; after updates
// it goes back through the manager.
func (s *Service) SendBackAsAdminPre(ctx context.Context, actor Actor, id, comment string) (*Request, error) {
	return s.transition(ctx, actor, OpSendBackAdminPre, Transition{RequestID: id}, comment)
}

// SendBackAsAdminPost returns an approved request to the team; after updates
// it comes straight back to the admins.
func (s *Service) SendBackAsAdminPost(ctx context.Context, actor Actor, id, comment string) (*Request, error) {
	return s.transition(ctx, actor, OpSendBackAdminPost, Transition{RequestID: id}, comment)
}

// ResubmitToManager replaces the content of a request sent back by the
// manager (or by an admin pre-approval) and makes it pending again.
func (s *Service) ResubmitToManager(ctx context.Context, actor Actor, id string, p Payload) (*Request, error) {
	return s.resubmit(ctx, actor, OpResubmitManager, id, p)
}

// ResubmitToAdmin replaces the content of a request sent back by an admin
// post-approval and returns it to the admins.
func (s *Service) ResubmitToAdmin(ctx context.Context, actor Actor, id string, p Payload) (*Request, error) {
	return s.resubmit(ctx, actor, OpResubmitAdmin, id, p)
}

func (s *Service) resubmit(ctx context.Context, actor Actor, op Operation, id string, p Payload) (*Request, error) {
	if err := authorize(actor, op); err != nil {
		return nil, err
	}
	content, err := s.sanitizer.Sanitize(ctx, p, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, op, Transition{RequestID: id, Content: content}, "")
}

// PlaceOrder records shipping, marks the request ordered and reconciles the
// project budget. Shipping is added to the existing total.
func (s *Service) PlaceOrder(ctx context.Context, actor Actor, id, shipping string) (*Request, error) {
	if err := authorize(actor, OpPlaceOrder); err != nil {
		return nil, err
	}
	shippingCents, err := money.ParseLenient(shipping)
	if err != nil {
		return nil, &ValidationError{Field: "shippingCost", Message: "is not a dollar amount", Err: err}
	}

	updated, err := s.transition(ctx, actor, OpPlaceOrder, Transition{RequestID: id, ShippingCents: &shippingCents}, "")
	if err != nil {
		return nil, err
	}

	// The order is committed; a failed reconcile is repaired by the next one.
	if _, err := s.budget.Reconcile(ctx, updated.ProjectNumber); err != nil {
		s.log.Error().Err(err).
			Int("project_number", updated.ProjectNumber).
			Str("request_id", updated.ID).
			Msg("budget reconcile after order failed")
	}
	return updated, nil
}

// MarkReady marks an ordered request as delivered.
func (s *Service) MarkReady(ctx context.Context, actor Actor, id string) (*Request, error) {
	return s.transition(ctx, actor, OpMarkReady, Transition{RequestID: id}, "")
}

// MarkComplete closes a request that was picked up.
func (s *Service) MarkComplete(ctx context.Context, actor Actor, id string) (*Request, error) {
	return s.transition(ctx, actor, OpMarkComplete, Transition{RequestID: id}, "")
}

// RejectAsManager rejects a pending request.
func (s *Service) RejectAsManager(ctx context.Context, actor Actor, id, comment string) (*Request, error) {
	return s.transition(ctx, actor, OpRejectManager, Transition{RequestID: id}, comment)
}

// RejectAsAdmin rejects a manager-approved request.
func (s *Service) RejectAsAdmin(ctx context.Context, actor Actor, id, comment string) (*Request, error) {
	return s.transition(ctx, actor, OpRejectAdmin, Transition{RequestID: id}, comment)
}

// transition fills t from the transition table and applies it.
func (s *Service) transition(ctx context.Context, actor Actor, op Operation, t Transition, comment string) (*Request, error) {
	if err := authorize(actor, op); err != nil {
		return nil, err
	}
	rule := rules[op]

	historyComment := rule.comment
	if historyComment == "" {
		historyComment = strings.TrimSpace(comment)
		if historyComment == "" {
			historyComment = defaultComment
		}
	}

	now := s.now()
	t.Operation = op
	t.From = rule.from
	t.To = rule.to
	t.Escalate = rule.escalate
	t.At = now
	t.Entry = &HistoryEntry{Actor: actor.Email, Timestamp: now, Comment: historyComment}

	updated, err := s.store.Transition(ctx, t)
	if err != nil {
		return nil, err
	}

	s.logTransition(op, actor, updated)
	notified := ""
	if rule.comment == "" {
		notified = historyComment
	}
	s.notify(ctx, op, actor, updated, notified)
	return updated, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetRequest returns one request the actor is allowed to see.
func (s *Service) GetRequest(ctx context.Context, actor Actor, id string) (*Request, error) {
	r, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(r.ProjectNumber) {
		return nil, fmt.Errorf("%w: request %s belongs to project %d", ErrForbidden, id, r.ProjectNumber)
	}
	return r, nil
}

// ListRequests lists requests visible to the actor. Non-admins only see
// their projects; managers never see drafts or cancelled requests.
func (s *Service) ListRequests(ctx context.Context, actor Actor, filter RequestFilter) ([]*Request, error) {
	scope, ok := scopeProjects(actor, filter.ProjectNumbers)
	if !ok {
		return []*Request{}, nil
	}
	filter.ProjectNumbers = scope
	if actor.Role == RoleManager {
		filter.ExcludeStatuses = append(slices.Clone(filter.ExcludeStatuses), StatusSaved, StatusCancelled)
	}
	requests, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	return requests, nil
}

func (s *Service) mustGet(ctx context.Context, id string) (*Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading request %s: %w", id, err)
	}
	if r == nil {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// =============================================================================
// BUDGET & COSTS
// =============================================================================

// ReconcileBudget recomputes a project's budget.
func (s *Service) ReconcileBudget(ctx context.Context, actor Actor, projectNumber int) (Budget, error) {
	if !actor.CanAccess(projectNumber) {
		return Budget{}, fmt.Errorf("%w: project %d", ErrForbidden, projectNumber)
	}
	return s.budget.Reconcile(ctx, projectNumber)
}

// AddCost appends a cost entry for a project.
func (s *Service) AddCost(ctx context.Context, actor Actor, projectNumber int, typ CostType, amountCents int64, comment string) (*Cost, error) {
	if err := authorize(actor, OpAddCost); err != nil {
		return nil, err
	}
	c, err := s.ledger.AddCost(ctx, actor, projectNumber, typ, amountCents, comment)
	if err != nil {
		return c, err
	}
	s.log.Info().
		Str("actor", actor.Email).
		Int("project_number", projectNumber).
		Str("cost_type", string(typ)).
		Int64("amount_cents", amountCents).
		Msg("cost recorded")

	// The cost is already committed; a missing project only skips the notice.
	if p, err := s.mustGetProject(ctx, projectNumber); err != nil {
		s.log.Warn().Err(err).Int("project_number", projectNumber).Msg("cost notice skipped")
	} else {
		s.notifyProject(ctx, OpAddCost, actor, p)
	}
	return c, nil
}

// ListCosts returns the cost ledger for the actor's projects.
func (s *Service) ListCosts(ctx context.Context, actor Actor, projectNumbers []int) ([]*Cost, error) {
	return s.ledger.ListCosts(ctx, actor, projectNumbers)
}

// =============================================================================
// HELPERS
// =============================================================================

func authorize(actor Actor, op Operation) error {
	if actor.Email == "" {
		return fmt.Errorf("%w: %s requires an identified actor", ErrForbidden, op)
	}
	if !Permits(op, actor.Role) {
		return fmt.Errorf("%w: role %q may not %s", ErrForbidden, actor.Role, op)
	}
	return nil
}

func (s *Service) logTransition(op Operation, actor Actor, r *Request) {
	s.log.Info().
		Str("operation", string(op)).
		Str("actor", actor.Email).
		Str("request_id", r.ID).
		Int64("request_number", r.RequestNumber).
		Str("status", string(r.Status)).
		Int("oic", int(r.OIC)).
		Msg("request updated")
}

// notify resolves and sends every planned notification for op. Errors are
// logged and dropped.
func (s *Service) notify(ctx context.Context, op Operation, actor Actor, r *Request, comment string) {
	for _, n := range PlanNotifications(op, r.OIC) {
		recipients, err := s.recipients(ctx, n.Audience, actor, r)
		if err != nil {
			s.log.Warn().Err(err).Str("audience", string(n.Audience)).Msg("resolving notification recipients")
			continue
		}
		if len(recipients) == 0 {
			continue
		}
		err = s.notifier.Notify(ctx, Notification{
			Operation:     op,
			Audience:      n.Audience,
			Action:        n.Action,
			Recipients:    recipients,
			RequestID:     r.ID,
			RequestNumber: r.RequestNumber,
			ProjectNumber: r.ProjectNumber,
			Actor:         actor.Email,
			Comment:       comment,
			OccurredAt:    s.now(),
		})
		if err != nil {
			s.log.Warn().Err(err).
				Str("operation", string(op)).
				Str("audience", string(n.Audience)).
				Msg("notification delivery failed")
		}
	}
}

func (s *Service) recipients(ctx context.Context, audience Audience, actor Actor, r *Request) ([]string, error) {
	switch audience {
	case AudienceActor:
		return []string{actor.Email}, nil
	case AudienceManager:
		if r.Manager == "" {
			return nil, nil
		}
		return []string{r.Manager}, nil
	case AudienceTeam:
		p, err := s.store.GetProject(ctx, r.ProjectNumber)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("project %d: %w", r.ProjectNumber, ErrNotFound)
		}
		return slices.Clone(p.MembersEmails), nil
	case AudienceAdmins:
		admins, err := s.store.UsersWithRole(ctx, RoleAdmin, 0)
		if err != nil {
			return nil, err
		}
		return emails(admins), nil
	}
	return nil, errors.New("unknown audience " + string(audience))
}

func emails(users []*User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}
