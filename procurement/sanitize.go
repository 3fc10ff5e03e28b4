/*
sanitize.go - Turns an untrusted request payload into a normalized Request

RULES:
  - projectNumber is always required and must reference an active project.
  - optional=true (draft save): every other field may be missing.
  - optional=false (submit, resubmit, admin edit): manager, vendor, URL and a
    non-empty items list are required, and every item needs description,
    partNo, itemURL, a positive integral quantity and a unitCost.
  - justification and additionalInfo are never required.
  - Costs are strict dollar strings (see money.ParseCents).
  - An item's totalCost, when given, must equal quantity x unitCost.
  - subtotal = sum of item totals. Shipping is always 0 here; it is only
    set when an order is placed.
*/
package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utdesign/procurement-engine/money"
)

// Payload is a request as submitted by a client.
type Payload struct {
	ProjectNumber  *int          `json:"projectNumber"`
	Manager        *string       `json:"manager"`
	Vendor         *string       `json:"vendor"`
	URL            *string       `json:"URL"`
	Justification  *string       `json:"justification"`
	AdditionalInfo *string       `json:"additionalInfo"`
	Items          []ItemPayload `json:"items"`
}

// ItemPayload is one line of a Payload. Quantity accepts a JSON number or a
// numeric string.
type ItemPayload struct {
	Description *string      `json:"description"`
	PartNo      *string      `json:"partNo"`
	ItemURL     *string      `json:"itemURL"`
	Quantity    *json.Number `json:"quantity"`
	UnitCost    *string      `json:"unitCost"`
	TotalCost   *string      `json:"totalCost"`
}

// Sanitizer validates payloads against the project catalog.
type Sanitizer struct {
	Projects ProjectStore
}

// Sanitize validates p and returns the request content it describes.
// The returned request has no ID, number, status or history.
func (s *Sanitizer) Sanitize(ctx context.Context, p Payload, optional bool) (*Request, error) {
	if p.ProjectNumber == nil {
		return nil, invalidField("projectNumber", "is required")
	}
	project, err := s.Projects.GetProject(ctx, *p.ProjectNumber)
	if err != nil {
		return nil, fmt.Errorf("looking up project %d: %w", *p.ProjectNumber, err)
	}
	if project == nil || project.Status != ProjectActive {
		return nil, invalidField("projectNumber", fmt.Sprintf("%d is not an active project", *p.ProjectNumber))
	}

	r := &Request{ProjectNumber: *p.ProjectNumber}

	if r.Manager, err = text(p.Manager, "manager", optional); err != nil {
		return nil, err
	}
	if r.Vendor, err = text(p.Vendor, "vendor", optional); err != nil {
		return nil, err
	}
	if r.SourceURL, err = text(p.URL, "URL", optional); err != nil {
		return nil, err
	}
	r.Justification, _ = text(p.Justification, "justification", true)
	r.AdditionalInfo, _ = text(p.AdditionalInfo, "additionalInfo", true)

	if len(p.Items) == 0 && !optional {
		return nil, invalidField("items", "at least one item is required")
	}

	r.Items = make([]Item, 0, len(p.Items))
	for i, ip := range p.Items {
		item, err := sanitizeItem(ip, fmt.Sprintf("items[%d]", i), optional)
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, item)
		if r.SubtotalCents, err = money.Sum(r.SubtotalCents, item.TotalCostCents); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].totalCost", i), Message: "pushes the subtotal out of range", Err: err}
		}
	}
	r.TotalCents = r.SubtotalCents
	return r, nil
}

func sanitizeItem(ip ItemPayload, prefix string, optional bool) (Item, error) {
	var (
		item Item
		err  error
	)
	if item.Description, err = text(ip.Description, prefix+".description", optional); err != nil {
		return item, err
	}
	if item.PartNo, err = text(ip.PartNo, prefix+".partNo", optional); err != nil {
		return item, err
	}
	if item.ItemURL, err = text(ip.ItemURL, prefix+".itemURL", optional); err != nil {
		return item, err
	}
	if item.Quantity, err = quantity(ip.Quantity, prefix+".quantity", optional); err != nil {
		return item, err
	}

	unitGiven := ip.UnitCost != nil && strings.TrimSpace(*ip.UnitCost) != ""
	if unitGiven {
		if item.UnitCostCents, err = cents(*ip.UnitCost, prefix+".unitCost"); err != nil {
			return item, err
		}
	} else if !optional {
		return item, invalidField(prefix+".unitCost", "is required")
	}

	computed, err := money.Multiply(item.UnitCostCents, item.Quantity)
	if err != nil {
		return item, &ValidationError{Field: prefix + ".unitCost", Message: "times quantity is too large", Err: err}
	}
	if ip.TotalCost != nil && strings.TrimSpace(*ip.TotalCost) != "" {
		if item.TotalCostCents, err = cents(*ip.TotalCost, prefix+".totalCost"); err != nil {
			return item, err
		}
		if unitGiven && item.TotalCostCents != computed {
			return item, invalidField(prefix+".totalCost", fmt.Sprintf(
				"%s does not equal quantity x unitCost (%s)",
				money.FormatDollars(item.TotalCostCents), money.FormatDollars(computed)))
		}
	} else {
		item.TotalCostCents = computed
	}
	return item, nil
}

func text(v *string, field string, optional bool) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		if optional {
			return "", nil
		}
		return "", invalidField(field, "is required")
	}
	return strings.TrimSpace(*v), nil
}

func quantity(v *json.Number, field string, optional bool) (int, error) {
	if v == nil || v.String() == "" {
		if optional {
			return 0, nil
		}
		return 0, invalidField(field, "is required")
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil || !d.IsInteger() {
		return 0, invalidField(field, fmt.Sprintf("%q is not a whole number", v.String()))
	}
	if d.IsNegative() || (!optional && d.IsZero()) {
		return 0, invalidField(field, "must be positive")
	}
	if d.GreaterThan(decimal.NewFromInt(1_000_000)) {
		return 0, invalidField(field, "is too large")
	}
	return int(d.IntPart()), nil
}

func cents(v, field string) (int64, error) {
	c, err := money.ParseCents(strings.TrimSpace(v))
	if err != nil {
		return 0, &ValidationError{Field: field, Message: "is not a dollar amount", Err: err}
	}
	return c, nil
}
