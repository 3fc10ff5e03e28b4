/*
lifecycle.go - The request state machine as data

STATE DIAGRAM:

    (new) --save--> saved --submit--> pending --approve--> manager approved
                                        |                       |
                     updates for manager <--send back (mgr)     |--send back (admin, pre)--> updates for manager
                     updates for admin  <--send back (admin, post)
                                                                |--order--> ordered --ready--> ready for pickup --complete--> complete

    updates for manager --resubmit to manager--> pending
    updates for admin   --resubmit to admin---> manager approved
    saved / pending / updates for * --save--> saved, --submit--> pending
    saved / updates for * --cancel--> cancelled
    pending --reject (mgr)--> rejected
    manager approved --reject (admin)--> rejected

  complete, rejected and cancelled are terminal.

ESCALATION (oic):
  0 -> 1 when a manager approves or sends back.
  1 -> 2 when an admin sends back.
  It is used only to decide who hears about cancellation and rejection.
*/
package procurement

import "slices"

// Operation names a lifecycle or administrative operation.
type Operation string

const (
	OpSave              Operation = "save"
	OpSubmit            Operation = "submit"
	OpAdminEdit         Operation = "admin edit"
	OpCancel            Operation = "cancel"
	OpApproveManager    Operation = "approve as manager"
	OpSendBackManager   Operation = "send back as manager"
	OpSendBackAdminPre  Operation = "send back as admin (pre-approval)"
	OpSendBackAdminPost Operation = "send back as admin (post-approval)"
	OpResubmitManager   Operation = "resubmit to manager"
	OpResubmitAdmin     Operation = "resubmit to admin"
	OpPlaceOrder        Operation = "place order"
	OpMarkReady         Operation = "mark ready for pickup"
	OpMarkComplete      Operation = "mark complete"
	OpRejectManager     Operation = "reject as manager"
	OpRejectAdmin       Operation = "reject as admin"

	OpAddCost           Operation = "add cost"
	OpCreateProject     Operation = "create project"
	OpEditProject       Operation = "edit project"
	OpInactivateProject Operation = "inactivate project"
)

// rule is one row of the transition table.
type rule struct {
	roles []Role
	from  []Status
	to    Status

	// comment is the history comment. Empty means the caller supplies one.
	comment  string
	escalate *EscalationRule
}

var (
	managerSteps = &EscalationRule{From: NotEscalated, To: ManagerInvolved}
	adminSteps   = &EscalationRule{From: ManagerInvolved, To: AdminInvolved}

	studentOnly = []Role{RoleStudent}
	managerOnly = []Role{RoleManager}
	adminOnly   = []Role{RoleAdmin}

	// Save and submit of an existing record only start from states the
	// team still owns. Approved and ordered requests are past editing.
	editableStatuses = []Status{
		StatusSaved, StatusPending,
		StatusUpdatesForManager, StatusUpdatesForAdmin,
	}
)

var rules = map[Operation]rule{
	OpSave:      {roles: studentOnly, from: editableStatuses, to: StatusSaved},
	OpSubmit:    {roles: studentOnly, from: editableStatuses, to: StatusPending},
	OpAdminEdit: {roles: adminOnly},
	OpCancel: {
		roles:   studentOnly,
		from:    []Status{StatusSaved, StatusUpdatesForManager, StatusUpdatesForAdmin},
		to:      StatusCancelled,
		comment: "cancelled by user",
	},
	OpApproveManager: {
		roles:    managerOnly,
		from:     []Status{StatusPending},
		to:       StatusManagerApproved,
		comment:  "approved by manager",
		escalate: managerSteps,
	},
	OpSendBackManager: {
		roles:    managerOnly,
		from:     []Status{StatusPending},
		to:       StatusUpdatesForManager,
		escalate: managerSteps,
	},
	OpSendBackAdminPre: {
		roles:    adminOnly,
		from:     []Status{StatusManagerApproved},
		to:       StatusUpdatesForManager,
		escalate: adminSteps,
	},
	OpSendBackAdminPost: {
		roles:    adminOnly,
		from:     []Status{StatusManagerApproved},
		to:       StatusUpdatesForAdmin,
		escalate: adminSteps,
	},
	OpResubmitManager: {
		roles:   studentOnly,
		from:    []Status{StatusUpdatesForManager},
		to:      StatusPending,
		comment: "resubmitted to manager",
	},
	OpResubmitAdmin: {
		roles:   studentOnly,
		from:    []Status{StatusUpdatesForAdmin},
		to:      StatusManagerApproved,
		comment: "resubmitted to admin",
	},
	OpPlaceOrder: {
		roles:   adminOnly,
		from:    []Status{StatusManagerApproved},
		to:      StatusOrdered,
		comment: "marked as ordered by admin",
	},
	OpMarkReady: {
		roles:   adminOnly,
		from:    []Status{StatusOrdered},
		to:      StatusReadyForPickup,
		comment: "marked as ready by admin",
	},
	OpMarkComplete: {
		roles:   adminOnly,
		from:    []Status{StatusReadyForPickup},
		to:      StatusComplete,
		comment: "marked as complete by admin",
	},
	OpRejectManager: {roles: managerOnly, from: []Status{StatusPending}, to: StatusRejected},
	OpRejectAdmin:   {roles: adminOnly, from: []Status{StatusManagerApproved}, to: StatusRejected},

	OpAddCost:           {roles: adminOnly},
	OpCreateProject:     {roles: adminOnly},
	OpEditProject:       {roles: adminOnly},
	OpInactivateProject: {roles: adminOnly},
}

// defaultComment is stored when a send-back or rejection arrives without one.
const defaultComment = "No comment"

// Accepts reports whether op may start from status s.
// Operations without a source-state constraint accept any status.
func Accepts(op Operation, s Status) bool {
	r, ok := rules[op]
	if !ok {
		return false
	}
	return len(r.from) == 0 || slices.Contains(r.from, s)
}

// Target returns the status op leads to, or "" when op keeps the status.
func Target(op Operation) Status {
	return rules[op].to
}

// Permits reports whether role may perform op.
func Permits(op Operation, role Role) bool {
	r, ok := rules[op]
	return ok && slices.Contains(r.roles, role)
}
