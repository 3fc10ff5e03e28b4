package procurement_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utdesign/procurement-engine/procurement"
	"github.com/utdesign/procurement-engine/procurement/store"
)

// =============================================================================
// FIXTURE
// =============================================================================

const projectNumber = 7

var (
	student = procurement.Actor{Email: "sam@utdallas.edu", Role: procurement.RoleStudent, ProjectNumbers: []int{projectNumber}}
	manager = procurement.Actor{Email: "morgan@utdallas.edu", Role: procurement.RoleManager, ProjectNumbers: []int{projectNumber}}
	admin   = procurement.Actor{Email: "alex@utdallas.edu", Role: procurement.RoleAdmin}
)

type recorder struct {
	mu   sync.Mutex
	sent []procurement.Notification
	err  error
}

func (r *recorder) Notify(_ context.Context, n procurement.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *recorder) audiences(op procurement.Operation) []procurement.Audience {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []procurement.Audience
	for _, n := range r.sent {
		if n.Operation == op {
			out = append(out, n.Audience)
		}
	}
	return out
}

func (r *recorder) to(audience procurement.Audience) *procurement.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sent {
		if r.sent[i].Audience == audience {
			return &r.sent[i]
		}
	}
	return nil
}

type fixture struct {
	svc   *procurement.Service
	store *store.Memory
	notes *recorder
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.CreateProject(ctx, &procurement.Project{
		ProjectNumber:      projectNumber,
		ProjectName:        "Autonomous Rover",
		SponsorName:        "Texas Instruments",
		MembersEmails:      []string{student.Email, "riley@utdallas.edu"},
		DefaultBudgetCents: 100000,
		Status:             procurement.ProjectActive,
	}))
	require.NoError(t, mem.CreateProject(ctx, &procurement.Project{
		ProjectNumber: 8,
		ProjectName:   "Retired",
		Status:        procurement.ProjectInactive,
	}))
	require.NoError(t, mem.SaveUser(ctx, &procurement.User{Email: admin.Email, Role: procurement.RoleAdmin}))
	require.NoError(t, mem.SaveUser(ctx, &procurement.User{Email: "jordan@utdallas.edu", Role: procurement.RoleAdmin}))
	require.NoError(t, mem.SaveUser(ctx, &procurement.User{Email: manager.Email, Role: procurement.RoleManager, ProjectNumbers: []int{projectNumber}}))

	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	notes := &recorder{}
	svc := procurement.NewService(mem,
		procurement.WithNotifier(notes),
		procurement.WithClock(func() time.Time { return clock }),
	)
	return &fixture{svc: svc, store: mem, notes: notes, ctx: ctx}
}

func str(s string) *string { return &s }

func qty(s string) *json.Number {
	n := json.Number(s)
	return &n
}

func intp(n int) *int { return &n }

func validPayload() procurement.Payload {
	return procurement.Payload{
		ProjectNumber: intp(projectNumber),
		Manager:       str(manager.Email),
		Vendor:        str("Digi-Key"),
		URL:           str("https://www.digikey.com"),
		Justification: str("Needed for the motor controller"),
		Items: []procurement.ItemPayload{{
			Description: str("10k resistor"),
			PartNo:      str("CF14JT10K0"),
			ItemURL:     str("https://www.digikey.com/CF14JT10K0"),
			Quantity:    qty("1"),
			UnitCost:    str("4.20"),
			TotalCost:   str("4.20"),
		}},
	}
}

// submitted creates a pending request.
func (f *fixture) submitted(t *testing.T) *procurement.Request {
	t.Helper()
	r, err := f.svc.SaveRequest(f.ctx, student, "", validPayload(), true)
	require.NoError(t, err)
	return r
}

// approved creates a manager-approved request.
func (f *fixture) approved(t *testing.T) *procurement.Request {
	t.Helper()
	r, err := f.svc.ApproveAsManager(f.ctx, manager, f.submitted(t).ID)
	require.NoError(t, err)
	return r
}

func assertTotals(t *testing.T, r *procurement.Request) {
	t.Helper()
	assert.Equal(t, r.SubtotalCents+r.ShippingCents, r.TotalCents, "total must equal subtotal + shipping")
}

// =============================================================================
// SAVE & SUBMIT
// =============================================================================

func TestSaveRequest_SubmitCreatesPendingRequest(t *testing.T) {
	f := newFixture(t)

	r := f.submitted(t)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, int64(1), r.RequestNumber)
	assert.Equal(t, procurement.StatusPending, r.Status)
	assert.Equal(t, int64(420), r.SubtotalCents)
	assert.Equal(t, int64(0), r.ShippingCents)
	assert.Equal(t, int64(420), r.TotalCents)
	assert.Equal(t, procurement.NotEscalated, r.OIC)

	require.Len(t, r.History, 1)
	assert.Equal(t, "submitted by "+student.Email, r.History[0].Comment)
	assert.Equal(t, procurement.StatusSaved, r.History[0].OldState)
	assert.Equal(t, procurement.StatusPending, r.History[0].NewState)

	assert.ElementsMatch(t,
		[]procurement.Audience{procurement.AudienceTeam, procurement.AudienceManager},
		f.notes.audiences(procurement.OpSubmit))
	assert.Equal(t, []string{manager.Email}, f.notes.to(procurement.AudienceManager).Recipients)
}

func TestSaveRequest_DraftThenSubmit(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an incomplete draft
	draft, err := f.svc.SaveRequest(f.ctx, student, "", procurement.Payload{
		ProjectNumber: intp(projectNumber),
		Vendor:        str("McMaster-Carr"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusSaved, draft.Status)
	assert.Empty(t, draft.History)
	assert.Empty(t, f.notes.sent, "drafts notify nobody")

	// WHEN: the same request is submitted with a full payload
	submitted, err := f.svc.SaveRequest(f.ctx, student, draft.ID, validPayload(), true)
	require.NoError(t, err)

	// THEN: it keeps its identity and moves to pending
	assert.Equal(t, draft.ID, submitted.ID)
	assert.Equal(t, draft.RequestNumber, submitted.RequestNumber)
	assert.Equal(t, procurement.StatusPending, submitted.Status)
	require.Len(t, submitted.History, 1)
	assert.Equal(t, procurement.StatusSaved, submitted.History[0].OldState)
}

func TestSaveRequest_SequenceIsMonotonic(t *testing.T) {
	f := newFixture(t)

	first := f.submitted(t)
	second := f.submitted(t)
	assert.Greater(t, second.RequestNumber, first.RequestNumber)
}

func TestSaveRequest_SubmitRequiresCompletePayload(t *testing.T) {
	f := newFixture(t)

	p := validPayload()
	p.Vendor = nil
	_, err := f.svc.SaveRequest(f.ctx, student, "", p, true)

	var verr *procurement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "vendor", verr.Field)
	assert.ErrorIs(t, err, procurement.ErrValidation)
}

func TestSaveRequest_InactiveProjectRejected(t *testing.T) {
	f := newFixture(t)

	p := validPayload()
	p.ProjectNumber = intp(8)
	_, err := f.svc.SaveRequest(f.ctx, student, "", p, false)

	var verr *procurement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "projectNumber", verr.Field)
}

func TestSaveRequest_CannotReopenTerminalRequest(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)
	_, err := f.svc.RejectAsManager(f.ctx, manager, r.ID, "out of scope")
	require.NoError(t, err)

	_, err = f.svc.SaveRequest(f.ctx, student, r.ID, validPayload(), true)
	assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
}

func TestSaveRequest_CannotReopenOrderedRequest(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an ordered request with 10.00 shipping
	r := f.approved(t)
	ordered, err := f.svc.PlaceOrder(f.ctx, admin, r.ID, "10.00")
	require.NoError(t, err)
	assert.Equal(t, int64(1420), ordered.TotalCents)
	before, err := f.store.GetProject(f.ctx, projectNumber)
	require.NoError(t, err)

	// WHEN: the student tries to save it back to a draft
	_, err = f.svc.SaveRequest(f.ctx, student, r.ID, validPayload(), false)

	// THEN: the request and the committed spend are untouched
	assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
	stored, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusOrdered, stored.Status)
	assert.Len(t, stored.History, len(ordered.History))
	assert.Equal(t, int64(1420), stored.TotalCents)
	after, err := f.store.GetProject(f.ctx, projectNumber)
	require.NoError(t, err)
	assert.Equal(t, before.AvailableBudgetCents, after.AvailableBudgetCents)
}

func TestSaveRequest_DraftOfPendingRequestIsRecorded(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)

	saved, err := f.svc.SaveRequest(f.ctx, student, r.ID, validPayload(), false)
	require.NoError(t, err)

	assert.Equal(t, procurement.StatusSaved, saved.Status)
	require.Len(t, saved.History, 2)
	last := saved.History[1]
	assert.Equal(t, "saved as draft by "+student.Email, last.Comment)
	assert.Equal(t, procurement.StatusPending, last.OldState)
	assert.Equal(t, procurement.StatusSaved, last.NewState)
}

func TestSaveRequest_EverySourceState(t *testing.T) {
	// setup builds a request in the named state.
	setups := map[procurement.Status]func(f *fixture, t *testing.T) *procurement.Request{
		procurement.StatusSaved: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.SaveRequest(f.ctx, student, "", validPayload(), false)
			require.NoError(t, err)
			return r
		},
		procurement.StatusPending: func(f *fixture, t *testing.T) *procurement.Request {
			return f.submitted(t)
		},
		procurement.StatusManagerApproved: func(f *fixture, t *testing.T) *procurement.Request {
			return f.approved(t)
		},
		procurement.StatusUpdatesForManager: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.SendBackAsManager(f.ctx, manager, f.submitted(t).ID, "wrong vendor")
			require.NoError(t, err)
			return r
		},
		procurement.StatusUpdatesForAdmin: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.SendBackAsAdminPost(f.ctx, admin, f.approved(t).ID, "quote expired")
			require.NoError(t, err)
			return r
		},
		procurement.StatusOrdered: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.PlaceOrder(f.ctx, admin, f.approved(t).ID, "10.00")
			require.NoError(t, err)
			return r
		},
		procurement.StatusReadyForPickup: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.PlaceOrder(f.ctx, admin, f.approved(t).ID, "10.00")
			require.NoError(t, err)
			r, err = f.svc.MarkReady(f.ctx, admin, r.ID)
			require.NoError(t, err)
			return r
		},
		procurement.StatusComplete: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.PlaceOrder(f.ctx, admin, f.approved(t).ID, "10.00")
			require.NoError(t, err)
			r, err = f.svc.MarkReady(f.ctx, admin, r.ID)
			require.NoError(t, err)
			r, err = f.svc.MarkComplete(f.ctx, admin, r.ID)
			require.NoError(t, err)
			return r
		},
		procurement.StatusRejected: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.RejectAsManager(f.ctx, manager, f.submitted(t).ID, "out of scope")
			require.NoError(t, err)
			return r
		},
		procurement.StatusCancelled: func(f *fixture, t *testing.T) *procurement.Request {
			r, err := f.svc.SaveRequest(f.ctx, student, "", validPayload(), false)
			require.NoError(t, err)
			r, err = f.svc.CancelRequest(f.ctx, student, r.ID)
			require.NoError(t, err)
			return r
		},
	}

	tests := []struct {
		from    procurement.Status
		submit  bool
		allowed bool
		comment string // last history comment, empty when nothing is appended
	}{
		{procurement.StatusSaved, false, true, ""},
		{procurement.StatusPending, false, true, "saved as draft by " + student.Email},
		{procurement.StatusUpdatesForManager, false, true, "saved as draft by " + student.Email},
		{procurement.StatusUpdatesForAdmin, false, true, "saved as draft by " + student.Email},
		{procurement.StatusManagerApproved, false, false, ""},
		{procurement.StatusOrdered, false, false, ""},
		{procurement.StatusReadyForPickup, false, false, ""},
		{procurement.StatusComplete, false, false, ""},
		{procurement.StatusRejected, false, false, ""},
		{procurement.StatusCancelled, false, false, ""},

		{procurement.StatusSaved, true, true, "submitted by " + student.Email},
		{procurement.StatusPending, true, true, "submitted by " + student.Email},
		{procurement.StatusUpdatesForManager, true, true, "submitted by " + student.Email},
		{procurement.StatusUpdatesForAdmin, true, true, "submitted by " + student.Email},
		{procurement.StatusManagerApproved, true, false, ""},
		{procurement.StatusOrdered, true, false, ""},
		{procurement.StatusReadyForPickup, true, false, ""},
		{procurement.StatusComplete, true, false, ""},
		{procurement.StatusRejected, true, false, ""},
		{procurement.StatusCancelled, true, false, ""},
	}

	for _, tt := range tests {
		name := string(tt.from) + "/draft"
		if tt.submit {
			name = string(tt.from) + "/submit"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			r := setups[tt.from](f, t)
			require.Equal(t, tt.from, r.Status)

			got, err := f.svc.SaveRequest(f.ctx, student, r.ID, validPayload(), tt.submit)

			if !tt.allowed {
				assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
				stored, err := f.store.GetRequest(f.ctx, r.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.from, stored.Status)
				assert.Len(t, stored.History, len(r.History))
				assert.Equal(t, r.TotalCents, stored.TotalCents)
				return
			}

			require.NoError(t, err)
			assertTotals(t, got)
			if tt.comment == "" {
				assert.Len(t, got.History, len(r.History), "an unchanged draft adds no history")
				return
			}
			require.Len(t, got.History, len(r.History)+1)
			last := got.History[len(got.History)-1]
			assert.Equal(t, tt.comment, last.Comment)
			assert.Equal(t, tt.from, last.OldState)
			assert.Equal(t, got.Status, last.NewState)
		})
	}
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestLifecycle_OrderReadyComplete(t *testing.T) {
	f := newFixture(t)

	r := f.approved(t)
	assert.Equal(t, procurement.StatusManagerApproved, r.Status)
	assert.Equal(t, procurement.ManagerInvolved, r.OIC)
	assert.ElementsMatch(t,
		[]procurement.Audience{procurement.AudienceActor, procurement.AudienceTeam, procurement.AudienceAdmins},
		f.notes.audiences(procurement.OpApproveManager))
	assert.ElementsMatch(t,
		[]string{admin.Email, "jordan@utdallas.edu"},
		f.notes.to(procurement.AudienceAdmins).Recipients)

	r, err := f.svc.PlaceOrder(f.ctx, admin, r.ID, "$5.00")
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusOrdered, r.Status)
	assert.Equal(t, int64(500), r.ShippingCents)
	assert.Equal(t, int64(920), r.TotalCents)
	assertTotals(t, r)

	project, err := f.store.GetProject(f.ctx, projectNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(100000-920), project.AvailableBudgetCents, "ordering reconciles the budget")

	r, err = f.svc.MarkReady(f.ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusReadyForPickup, r.Status)

	r, err = f.svc.MarkComplete(f.ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusComplete, r.Status)

	comments := make([]string, len(r.History))
	for i, h := range r.History {
		comments[i] = h.Comment
	}
	assert.Equal(t, []string{
		"submitted by " + student.Email,
		"approved by manager",
		"marked as ordered by admin",
		"marked as ready by admin",
		"marked as complete by admin",
	}, comments)
	assertTotals(t, r)
}

func TestPlaceOrder_InvalidShipping(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)

	_, err := f.svc.PlaceOrder(f.ctx, admin, r.ID, "five dollars")
	assert.ErrorIs(t, err, procurement.ErrValidation)

	stored, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusManagerApproved, stored.Status)
}

// =============================================================================
// SEND BACK & RESUBMIT
// =============================================================================

func TestLifecycle_AdminSendBackPostAndResubmit(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)

	r, err := f.svc.SendBackAsAdminPost(f.ctx, admin, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusUpdatesForAdmin, r.Status)
	assert.Equal(t, procurement.AdminInvolved, r.OIC)
	assert.Equal(t, "No comment", r.History[len(r.History)-1].Comment)

	p := validPayload()
	p.Items[0].Quantity = qty("3")
	p.Items[0].TotalCost = str("12.60")
	r, err = f.svc.ResubmitToAdmin(f.ctx, student, r.ID, p)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusManagerApproved, r.Status)
	assert.Equal(t, procurement.AdminInvolved, r.OIC)
	assert.Equal(t, int64(1260), r.SubtotalCents)
	assertTotals(t, r)
}

func TestLifecycle_AdminSendBackPreReturnsThroughManager(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)
	f.notes.reset()

	r, err := f.svc.SendBackAsAdminPre(f.ctx, admin, r.ID, "wrong vendor")
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusUpdatesForManager, r.Status)
	assert.Equal(t, procurement.AdminInvolved, r.OIC)
	assert.ElementsMatch(t,
		[]procurement.Audience{procurement.AudienceActor, procurement.AudienceTeam, procurement.AudienceManager},
		f.notes.audiences(procurement.OpSendBackAdminPre))
	assert.Equal(t, "wrong vendor", f.notes.to(procurement.AudienceTeam).Comment)

	r, err = f.svc.ResubmitToManager(f.ctx, student, r.ID, validPayload())
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusPending, r.Status)
	assert.Equal(t, procurement.AdminInvolved, r.OIC, "oic never decreases")
}

func TestSendBackAsManager_EscalatesOnce(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)

	r, err := f.svc.SendBackAsManager(f.ctx, manager, r.ID, "add a datasheet")
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusUpdatesForManager, r.Status)
	assert.Equal(t, procurement.ManagerInvolved, r.OIC)

	r, err = f.svc.ResubmitToManager(f.ctx, student, r.ID, validPayload())
	require.NoError(t, err)
	r, err = f.svc.ApproveAsManager(f.ctx, manager, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.ManagerInvolved, r.OIC)
}

// =============================================================================
// REJECT & CANCEL - escalation-driven audiences
// =============================================================================

func TestRejectAsManager_NotifiesAdminsOnlyWhenEscalated(t *testing.T) {
	t.Run("oic below 2", func(t *testing.T) {
		f := newFixture(t)
		r := f.submitted(t)

		r, err := f.svc.RejectAsManager(f.ctx, manager, r.ID, "")
		require.NoError(t, err)
		assert.Equal(t, procurement.StatusRejected, r.Status)
		assert.NotContains(t, f.notes.audiences(procurement.OpRejectManager), procurement.AudienceAdmins)
	})

	t.Run("oic equals 2", func(t *testing.T) {
		f := newFixture(t)
		r := f.approved(t)
		r, err := f.svc.SendBackAsAdminPre(f.ctx, admin, r.ID, "needs rework")
		require.NoError(t, err)
		r, err = f.svc.ResubmitToManager(f.ctx, student, r.ID, validPayload())
		require.NoError(t, err)
		require.Equal(t, procurement.AdminInvolved, r.OIC)

		_, err = f.svc.RejectAsManager(f.ctx, manager, r.ID, "not needed after all")
		require.NoError(t, err)
		assert.Contains(t, f.notes.audiences(procurement.OpRejectManager), procurement.AudienceAdmins)
	})
}

func TestCancelRequest(t *testing.T) {
	t.Run("draft", func(t *testing.T) {
		f := newFixture(t)
		draft, err := f.svc.SaveRequest(f.ctx, student, "", procurement.Payload{ProjectNumber: intp(projectNumber)}, false)
		require.NoError(t, err)

		r, err := f.svc.CancelRequest(f.ctx, student, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, procurement.StatusCancelled, r.Status)
		assert.Equal(t, "cancelled by user", r.History[len(r.History)-1].Comment)
		assert.Equal(t, []procurement.Audience{procurement.AudienceTeam}, f.notes.audiences(procurement.OpCancel))
	})

	t.Run("pending is not cancellable", func(t *testing.T) {
		f := newFixture(t)
		r := f.submitted(t)

		_, err := f.svc.CancelRequest(f.ctx, student, r.ID)
		assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
	})

	t.Run("after admin send-back tells manager and admins", func(t *testing.T) {
		f := newFixture(t)
		r := f.approved(t)
		r, err := f.svc.SendBackAsAdminPost(f.ctx, admin, r.ID, "quote expired")
		require.NoError(t, err)

		_, err = f.svc.CancelRequest(f.ctx, student, r.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]procurement.Audience{procurement.AudienceTeam, procurement.AudienceManager, procurement.AudienceAdmins},
			f.notes.audiences(procurement.OpCancel))
	})
}

// =============================================================================
// ADMIN EDIT
// =============================================================================

func TestEditRequest_KeepsStatusAndEscalation(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)

	p := validPayload()
	p.Vendor = str("Mouser")
	edited, err := f.svc.EditRequest(f.ctx, admin, r.ID, p)
	require.NoError(t, err)

	assert.Equal(t, "Mouser", edited.Vendor)
	assert.Equal(t, procurement.StatusManagerApproved, edited.Status)
	assert.Equal(t, procurement.ManagerInvolved, edited.OIC)

	last := edited.History[len(edited.History)-1]
	assert.Equal(t, "edited by "+admin.Email, last.Comment)
	assert.Equal(t, last.OldState, last.NewState)
}

func TestEditRequest_PreservesShipping(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)
	r, err := f.svc.PlaceOrder(f.ctx, admin, r.ID, "2.50")
	require.NoError(t, err)

	p := validPayload()
	p.Items[0].Quantity = qty("2")
	p.Items[0].TotalCost = str("8.40")
	edited, err := f.svc.EditRequest(f.ctx, admin, r.ID, p)
	require.NoError(t, err)

	assert.Equal(t, int64(250), edited.ShippingCents)
	assert.Equal(t, int64(840+250), edited.TotalCents)
}

// =============================================================================
// PRECONDITIONS, ROLES, CONCURRENCY
// =============================================================================

func TestTransition_WrongStateLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	r := f.approved(t)

	before, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)

	_, err = f.svc.ApproveAsManager(f.ctx, manager, r.ID)
	var perr *procurement.PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, procurement.StatusManagerApproved, perr.Actual)

	after, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransition_TerminalStatesAcceptNothing(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)
	r, err := f.svc.RejectAsManager(f.ctx, manager, r.ID, "duplicate")
	require.NoError(t, err)

	attempts := map[string]func() error{
		"cancel":    func() error { _, err := f.svc.CancelRequest(f.ctx, student, r.ID); return err },
		"approve":   func() error { _, err := f.svc.ApproveAsManager(f.ctx, manager, r.ID); return err },
		"send back": func() error { _, err := f.svc.SendBackAsManager(f.ctx, manager, r.ID, ""); return err },
		"order":     func() error { _, err := f.svc.PlaceOrder(f.ctx, admin, r.ID, "0"); return err },
		"ready":     func() error { _, err := f.svc.MarkReady(f.ctx, admin, r.ID); return err },
		"complete":  func() error { _, err := f.svc.MarkComplete(f.ctx, admin, r.ID); return err },
		"reject":    func() error { _, err := f.svc.RejectAsAdmin(f.ctx, admin, r.ID, ""); return err },
	}
	for name, attempt := range attempts {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, attempt(), procurement.ErrPreconditionFailed)
		})
	}
}

func TestTransition_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ApproveAsManager(f.ctx, manager, "does-not-exist")
	assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
	assert.ErrorIs(t, err, procurement.ErrNotFound)
}

func TestTransition_RoleGate(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)

	_, err := f.svc.ApproveAsManager(f.ctx, student, r.ID)
	assert.ErrorIs(t, err, procurement.ErrForbidden)

	_, err = f.svc.PlaceOrder(f.ctx, manager, r.ID, "1.00")
	assert.ErrorIs(t, err, procurement.ErrForbidden)

	_, err = f.svc.AddCost(f.ctx, student, projectNumber, procurement.CostRefund, 100, "")
	assert.ErrorIs(t, err, procurement.ErrForbidden)
}

func TestTransition_ConcurrentApprovalsOneWins(t *testing.T) {
	f := newFixture(t)
	r := f.submitted(t)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApproveAsManager(f.ctx, manager, r.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, procurement.ErrPreconditionFailed):
				failed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, failed)

	stored, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 2, "exactly one approval entry")
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("smtp relay down")

	r := f.submitted(t)
	r, err := f.svc.ApproveAsManager(f.ctx, manager, r.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusManagerApproved, r.Status)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListRequests_Scoping(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveRequest(f.ctx, student, "", procurement.Payload{ProjectNumber: intp(projectNumber)}, false)
	require.NoError(t, err)
	pending := f.submitted(t)

	all, err := f.svc.ListRequests(f.ctx, student, procurement.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forManager, err := f.svc.ListRequests(f.ctx, manager, procurement.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, forManager, 1, "managers don't see drafts")
	assert.Equal(t, pending.ID, forManager[0].ID)

	outsider := procurement.Actor{Email: "pat@utdallas.edu", Role: procurement.RoleStudent, ProjectNumbers: []int{99}}
	none, err := f.svc.ListRequests(f.ctx, outsider, procurement.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.GetRequest(f.ctx, outsider, pending.ID)
	assert.ErrorIs(t, err, procurement.ErrForbidden)

	byStatus, err := f.svc.ListRequests(f.ctx, admin, procurement.RequestFilter{Statuses: []procurement.Status{procurement.StatusPending}})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)
}

func TestGetRequest_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetRequest(f.ctx, admin, "missing")
	assert.ErrorIs(t, err, procurement.ErrNotFound)
}
