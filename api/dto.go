/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes for requests and responses. Money leaves the core
  as integer cents; every DTO carries both the cents and a "d.cc" string.

REQUEST BODIES:
  saveRequestBody   Payload plus optional id and the submit flag
  commentBody       Send-back and reject comments
  orderBody         Shipping cost for PlaceOrder
  costBody          Cost ledger entry
  userBody          Directory entry

SEE ALSO:
  - procurement/sanitize.go: Payload validation
  - money/money.go: Dollar formatting
*/
package api

import (
	"time"

	"github.com/utdesign/procurement-engine/money"
	"github.com/utdesign/procurement-engine/procurement"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type saveRequestBody struct {
	ID     string `json:"id"`
	Submit bool   `json:"submit"`
	procurement.Payload
}

type commentBody struct {
	Comment string `json:"comment"`
}

type orderBody struct {
	ShippingCost string `json:"shippingCost"`
}

type costBody struct {
	ProjectNumber int    `json:"projectNumber"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Comment       string `json:"comment"`
}

type userBody struct {
	Email          string `json:"email"`
	Role           string `json:"role"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	ProjectNumbers []int  `json:"projectNumbers"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ItemDTO is a line item.
type ItemDTO struct {
	Description    string `json:"description"`
	PartNo         string `json:"partNo"`
	ItemURL        string `json:"itemURL"`
	Quantity       int    `json:"quantity"`
	UnitCost       string `json:"unitCost"`
	UnitCostCents  int64  `json:"unitCostCents"`
	TotalCost      string `json:"totalCost"`
	TotalCostCents int64  `json:"totalCostCents"`
}

// RequestDTO is a procurement request.
type RequestDTO struct {
	ID             string                     `json:"id"`
	RequestNumber  int64                      `json:"requestNumber"`
	ProjectNumber  int                        `json:"projectNumber"`
	Manager        string                     `json:"manager"`
	Vendor         string                     `json:"vendor"`
	URL            string                     `json:"URL"`
	Justification  string                     `json:"justification"`
	AdditionalInfo string                     `json:"additionalInfo"`
	Items          []ItemDTO                  `json:"items"`
	Subtotal       string                     `json:"subtotal"`
	SubtotalCents  int64                      `json:"subtotalCents"`
	Shipping       string                     `json:"shippingCost"`
	ShippingCents  int64                      `json:"shippingCents"`
	Total          string                     `json:"total"`
	TotalCents     int64                      `json:"totalCents"`
	Status         procurement.Status         `json:"status"`
	OIC            procurement.Escalation     `json:"oic"`
	Escalation     string                     `json:"escalation"`
	History        []procurement.HistoryEntry `json:"history"`
	CreatedAt      string                     `json:"createdAt"`
	UpdatedAt      string                     `json:"updatedAt"`
}

// ProjectDTO is a project with its reconciled budget.
type ProjectDTO struct {
	ProjectNumber        int      `json:"projectNumber"`
	SponsorName          string   `json:"sponsorName"`
	ProjectName          string   `json:"projectName"`
	MembersEmails        []string `json:"membersEmails"`
	DefaultBudget        string   `json:"defaultBudget"`
	DefaultBudgetCents   int64    `json:"defaultBudgetCents"`
	AvailableBudget      string   `json:"availableBudget"`
	AvailableBudgetCents int64    `json:"availableBudgetCents"`
	PendingBudget        string   `json:"pendingBudget"`
	PendingBudgetCents   int64    `json:"pendingBudgetCents"`
	Status               string   `json:"status"`
	CreatedAt            string   `json:"createdAt"`
}

// BudgetDTO is the outcome of a reconciliation.
type BudgetDTO struct {
	procurement.Budget
	DefaultBudget   string `json:"defaultBudget"`
	AvailableBudget string `json:"availableBudget"`
	PendingBudget   string `json:"pendingBudget"`
	ActualCosts     string `json:"actualCosts"`
	PendingCosts    string `json:"pendingCosts"`
	MiscCosts       string `json:"miscCosts"`
}

// CostDTO is a cost ledger entry.
type CostDTO struct {
	ID            string `json:"id"`
	ProjectNumber int    `json:"projectNumber"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	AmountCents   int64  `json:"amountCents"`
	Comment       string `json:"comment"`
	Actor         string `json:"actor"`
	Timestamp     string `json:"timestamp"`
}

// UserDTO is a directory entry.
type UserDTO struct {
	Email          string `json:"email"`
	Role           string `json:"role"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	ProjectNumbers []int  `json:"projectNumbers"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRequestDTO(r *procurement.Request) RequestDTO {
	items := make([]ItemDTO, len(r.Items))
	for i, it := range r.Items {
		items[i] = ItemDTO{
			Description:    it.Description,
			PartNo:         it.PartNo,
			ItemURL:        it.ItemURL,
			Quantity:       it.Quantity,
			UnitCost:       money.FormatDollars(it.UnitCostCents),
			UnitCostCents:  it.UnitCostCents,
			TotalCost:      money.FormatDollars(it.TotalCostCents),
			TotalCostCents: it.TotalCostCents,
		}
	}
	history := r.History
	if history == nil {
		history = []procurement.HistoryEntry{}
	}
	return RequestDTO{
		ID:             r.ID,
		RequestNumber:  r.RequestNumber,
		ProjectNumber:  r.ProjectNumber,
		Manager:        r.Manager,
		Vendor:         r.Vendor,
		URL:            r.SourceURL,
		Justification:  r.Justification,
		AdditionalInfo: r.AdditionalInfo,
		Items:          items,
		Subtotal:       money.FormatDollars(r.SubtotalCents),
		SubtotalCents:  r.SubtotalCents,
		Shipping:       money.FormatDollars(r.ShippingCents),
		ShippingCents:  r.ShippingCents,
		Total:          money.FormatDollars(r.TotalCents),
		TotalCents:     r.TotalCents,
		Status:         r.Status,
		OIC:            r.OIC,
		Escalation:     r.OIC.String(),
		History:        history,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
}

func toRequestDTOs(rs []*procurement.Request) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i, r := range rs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func toProjectDTO(p *procurement.Project) ProjectDTO {
	members := p.MembersEmails
	if members == nil {
		members = []string{}
	}
	return ProjectDTO{
		ProjectNumber:        p.ProjectNumber,
		SponsorName:          p.SponsorName,
		ProjectName:          p.ProjectName,
		MembersEmails:        members,
		DefaultBudget:        money.FormatDollars(p.DefaultBudgetCents),
		DefaultBudgetCents:   p.DefaultBudgetCents,
		AvailableBudget:      money.FormatDollars(p.AvailableBudgetCents),
		AvailableBudgetCents: p.AvailableBudgetCents,
		PendingBudget:        money.FormatDollars(p.PendingBudgetCents),
		PendingBudgetCents:   p.PendingBudgetCents,
		Status:               string(p.Status),
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
	}
}

func toBudgetDTO(b procurement.Budget) BudgetDTO {
	return BudgetDTO{
		Budget:          b,
		DefaultBudget:   money.FormatDollars(b.DefaultBudgetCents),
		AvailableBudget: money.FormatDollars(b.AvailableBudgetCents),
		PendingBudget:   money.FormatDollars(b.PendingBudgetCents),
		ActualCosts:     money.FormatDollars(b.ActualCostsCents),
		PendingCosts:    money.FormatDollars(b.PendingCostsCents),
		MiscCosts:       money.FormatDollars(b.MiscCostsCents),
	}
}

func toCostDTO(c *procurement.Cost) CostDTO {
	return CostDTO{
		ID:            c.ID,
		ProjectNumber: c.ProjectNumber,
		Type:          string(c.Type),
		Amount:        money.FormatDollars(c.AmountCents),
		AmountCents:   c.AmountCents,
		Comment:       c.Comment,
		Actor:         c.Actor,
		Timestamp:     c.Timestamp.Format(time.RFC3339),
	}
}

func toUserDTO(u *procurement.User) UserDTO {
	projects := u.ProjectNumbers
	if projects == nil {
		projects = []int{}
	}
	return UserDTO{
		Email:          u.Email,
		Role:           string(u.Role),
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProjectNumbers: projects,
	}
}
