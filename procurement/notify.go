/*
notify.go - Who hears about what

PURPOSE:
  The core decides the audience of every notification. Rendering and
  delivery belong to a Notifier implementation (see package notify).
  Delivery failures are logged by the service and never undo a transition.

AUDIENCES:
  actor    - the person who performed the operation (confirmation)
  team     - the project's members
  manager  - the request's technical manager
  admins   - every user with the admin role

ESCALATION-DEPENDENT AUDIENCES:
  cancel:            manager if oic >= 1, admins if oic == 2
  reject (manager):  admins if oic == 2
*/
package procurement

import (
	"context"
	"time"
)

// Audience is a class of notification recipient.
type Audience string

const (
	AudienceActor   Audience = "actor"
	AudienceTeam    Audience = "team"
	AudienceManager Audience = "manager"
	AudienceAdmins  Audience = "admins"
)

// Notification is one message to one audience.
type Notification struct {
	Operation     Operation `json:"operation"`
	Audience      Audience  `json:"audience"`
	Action        string    `json:"action"`
	Recipients    []string  `json:"recipients"`
	RequestID     string    `json:"requestId,omitempty"`
	RequestNumber int64     `json:"requestNumber,omitempty"`
	ProjectNumber int       `json:"projectNumber"`
	Actor         string    `json:"actor"`
	Comment       string    `json:"comment,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Notice is one planned audience and what they are told.
type Notice struct {
	Audience Audience
	Action   string
}

// PlanNotifications returns who must be told about op on a request whose
// escalation is oic. Recipients are resolved separately.
func PlanNotifications(op Operation, oic Escalation) []Notice {
	switch op {
	case OpSubmit:
		return []Notice{
			{AudienceTeam, "submitted"},
			{AudienceManager, "submitted and awaiting your approval"},
		}
	case OpAdminEdit:
		return []Notice{
			{AudienceTeam, "edited by admin"},
			{AudienceManager, "edited by admin"},
		}
	case OpCancel:
		out := []Notice{{AudienceTeam, "cancelled"}}
		if oic >= ManagerInvolved {
			out = append(out, Notice{AudienceManager, "cancelled by the team"})
		}
		if oic == AdminInvolved {
			out = append(out, Notice{AudienceAdmins, "cancelled by the team"})
		}
		return out
	case OpApproveManager:
		return []Notice{
			{AudienceActor, "approved"},
			{AudienceTeam, "approved by manager"},
			{AudienceAdmins, "approved by manager and awaiting admin review"},
		}
	case OpSendBackManager:
		return []Notice{
			{AudienceActor, "sent back to the team"},
			{AudienceTeam, "sent back by manager for updates"},
		}
	case OpSendBackAdminPre:
		return []Notice{
			{AudienceActor, "sent back to the team"},
			{AudienceTeam, "sent back by admin for updates"},
			{AudienceManager, "sent back by admin and will return for your review"},
		}
	case OpSendBackAdminPost:
		return []Notice{
			{AudienceActor, "sent back to the team"},
			{AudienceTeam, "sent back by admin for updates"},
		}
	case OpResubmitManager:
		return []Notice{
			{AudienceTeam, "resubmitted to manager"},
			{AudienceManager, "resubmitted and awaiting your approval"},
		}
	case OpResubmitAdmin:
		return []Notice{
			{AudienceTeam, "resubmitted to admin"},
			{AudienceAdmins, "resubmitted and awaiting admin review"},
		}
	case OpPlaceOrder:
		return []Notice{
			{AudienceActor, "marked as ordered"},
			{AudienceTeam, "ordered"},
		}
	case OpMarkReady:
		return []Notice{
			{AudienceActor, "marked as ready for pickup"},
			{AudienceTeam, "delivered and is ready for pickup"},
		}
	case OpMarkComplete:
		return []Notice{
			{AudienceActor, "marked as complete"},
			{AudienceTeam, "complete"},
		}
	case OpRejectManager:
		out := []Notice{
			{AudienceActor, "rejected"},
			{AudienceTeam, "rejected by manager"},
		}
		if oic == AdminInvolved {
			out = append(out, Notice{AudienceAdmins, "rejected by manager"})
		}
		return out
	case OpRejectAdmin:
		return []Notice{
			{AudienceActor, "rejected"},
			{AudienceTeam, "rejected by admin"},
		}
	case OpCreateProject:
		return []Notice{{AudienceTeam, "you were added to a project"}}
	case OpEditProject:
		return []Notice{{AudienceTeam, "project details changed"}}
	case OpInactivateProject:
		return []Notice{{AudienceTeam, "project inactivated"}}
	case OpAddCost:
		return []Notice{{AudienceTeam, "project budget adjusted"}}
	}
	return nil
}
