package procurement_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utdesign/procurement-engine/procurement"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		op   procurement.Operation
		from procurement.Status
		want bool
	}{
		{procurement.OpCancel, procurement.StatusSaved, true},
		{procurement.OpCancel, procurement.StatusUpdatesForManager, true},
		{procurement.OpCancel, procurement.StatusUpdatesForAdmin, true},
		{procurement.OpCancel, procurement.StatusPending, false},
		{procurement.OpApproveManager, procurement.StatusPending, true},
		{procurement.OpApproveManager, procurement.StatusManagerApproved, false},
		{procurement.OpPlaceOrder, procurement.StatusManagerApproved, true},
		{procurement.OpPlaceOrder, procurement.StatusPending, false},
		{procurement.OpMarkReady, procurement.StatusOrdered, true},
		{procurement.OpMarkComplete, procurement.StatusReadyForPickup, true},
		{procurement.OpMarkComplete, procurement.StatusOrdered, false},
		{procurement.OpResubmitAdmin, procurement.StatusUpdatesForAdmin, true},
		{procurement.OpResubmitAdmin, procurement.StatusUpdatesForManager, false},
		{procurement.OpAdminEdit, procurement.StatusComplete, true},
		{procurement.OpSave, procurement.StatusCancelled, false},
		{procurement.OpSave, procurement.StatusUpdatesForAdmin, true},
		{procurement.OpSave, procurement.StatusManagerApproved, false},
		{procurement.OpSave, procurement.StatusOrdered, false},
		{procurement.OpSubmit, procurement.StatusPending, true},
		{procurement.OpSubmit, procurement.StatusReadyForPickup, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+" from "+string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, procurement.Accepts(tt.op, tt.from))
		})
	}

	assert.Equal(t, procurement.StatusUpdatesForManager, procurement.Target(procurement.OpSendBackAdminPre))
	assert.Equal(t, procurement.StatusUpdatesForAdmin, procurement.Target(procurement.OpSendBackAdminPost))
	assert.Equal(t, procurement.Status(""), procurement.Target(procurement.OpAdminEdit))
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	ops := []procurement.Operation{
		procurement.OpSave, procurement.OpSubmit, procurement.OpCancel,
		procurement.OpApproveManager, procurement.OpSendBackManager,
		procurement.OpSendBackAdminPre, procurement.OpSendBackAdminPost,
		procurement.OpResubmitManager, procurement.OpResubmitAdmin,
		procurement.OpPlaceOrder, procurement.OpMarkReady, procurement.OpMarkComplete,
		procurement.OpRejectManager, procurement.OpRejectAdmin,
	}
	for _, s := range procurement.AllStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, op := range ops {
			assert.False(t, procurement.Accepts(op, s), "%s must not accept %s", op, s)
		}
	}
}

func TestPermits(t *testing.T) {
	assert.True(t, procurement.Permits(procurement.OpSubmit, procurement.RoleStudent))
	assert.False(t, procurement.Permits(procurement.OpSubmit, procurement.RoleAdmin))
	assert.True(t, procurement.Permits(procurement.OpRejectManager, procurement.RoleManager))
	assert.False(t, procurement.Permits(procurement.OpRejectManager, procurement.RoleAdmin))
	assert.True(t, procurement.Permits(procurement.OpAddCost, procurement.RoleAdmin))
}

// =============================================================================
// Transition.Apply
// =============================================================================

func TestApply_EscalationNeverDecreases(t *testing.T) {
	r := &procurement.Request{ID: "r1", Status: procurement.StatusPending, OIC: procurement.AdminInvolved}

	err := procurement.Transition{
		RequestID: "r1",
		From:      []procurement.Status{procurement.StatusPending},
		To:        procurement.StatusManagerApproved,
		Escalate:  &procurement.EscalationRule{From: procurement.NotEscalated, To: procurement.ManagerInvolved},
	}.Apply(r)

	require.NoError(t, err)
	assert.Equal(t, procurement.AdminInvolved, r.OIC)
}

func TestApply_ShippingSetsTotal(t *testing.T) {
	r := &procurement.Request{ID: "r1", Status: procurement.StatusManagerApproved, SubtotalCents: 1000, TotalCents: 1000}
	shipping := int64(350)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	err := procurement.Transition{
		From:          []procurement.Status{procurement.StatusManagerApproved},
		To:            procurement.StatusOrdered,
		ShippingCents: &shipping,
		Entry:         &procurement.HistoryEntry{Actor: "alex@utdallas.edu", Comment: "marked as ordered by admin"},
		At:            at,
	}.Apply(r)

	require.NoError(t, err)
	assert.Equal(t, int64(1350), r.TotalCents)
	require.Len(t, r.History, 1)
	assert.Equal(t, procurement.StatusManagerApproved, r.History[0].OldState)
	assert.Equal(t, procurement.StatusOrdered, r.History[0].NewState)
	assert.Equal(t, at, r.History[0].Timestamp)
}

func TestApply_ShippingReplacesEarlierShipping(t *testing.T) {
	r := &procurement.Request{ID: "r1", Status: procurement.StatusManagerApproved, SubtotalCents: 420, ShippingCents: 1000, TotalCents: 1420}
	shipping := int64(500)

	err := procurement.Transition{To: procurement.StatusOrdered, ShippingCents: &shipping}.Apply(r)

	require.NoError(t, err)
	assert.Equal(t, int64(920), r.TotalCents)
	assert.Equal(t, r.SubtotalCents+r.ShippingCents, r.TotalCents)
}

func TestApply_TotalOverflowRejected(t *testing.T) {
	r := &procurement.Request{ID: "r1", Status: procurement.StatusManagerApproved, SubtotalCents: math.MaxInt64, TotalCents: math.MaxInt64}
	before := *r
	shipping := int64(1)

	err := procurement.Transition{To: procurement.StatusOrdered, ShippingCents: &shipping}.Apply(r)

	var verr *procurement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "shippingCost", verr.Field)
	assert.Equal(t, before, *r)
}

func TestApply_ChangeEntryOnlyWhenStatusChanges(t *testing.T) {
	draft := &procurement.HistoryEntry{Actor: "sam@utdallas.edu", Comment: "saved as draft by sam@utdallas.edu"}

	// GIVEN: a pending request saved back to draft
	r := &procurement.Request{ID: "r1", Status: procurement.StatusPending}
	require.NoError(t, procurement.Transition{To: procurement.StatusSaved, ChangeEntry: draft}.Apply(r))

	// THEN: the status change is recorded
	require.Len(t, r.History, 1)
	assert.Equal(t, procurement.StatusPending, r.History[0].OldState)
	assert.Equal(t, procurement.StatusSaved, r.History[0].NewState)

	// WHEN: the draft is saved again
	require.NoError(t, procurement.Transition{To: procurement.StatusSaved, ChangeEntry: draft}.Apply(r))

	// THEN: nothing changed, so nothing is appended
	assert.Len(t, r.History, 1)
}

func TestApply_PreconditionLeavesRequestUntouched(t *testing.T) {
	r := &procurement.Request{ID: "r1", Status: procurement.StatusOrdered, TotalCents: 10}
	before := *r

	err := procurement.Transition{
		Operation: procurement.OpApproveManager,
		From:      []procurement.Status{procurement.StatusPending},
		To:        procurement.StatusManagerApproved,
	}.Apply(r)

	assert.ErrorIs(t, err, procurement.ErrPreconditionFailed)
	assert.Equal(t, before, *r)
}
