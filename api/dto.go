/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  ledger types from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALUES:
  Request values are json.Number so 5, 5.0 and 5.5 can be told apart:
  non-integral numbers fail with "value must be an integer" instead of a
  generic decode error.

FAILURES:
  Every failure body is ledger.Outcome: {"message": "..."}.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/merit-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateGrantRequest is the body of POST /api/{kind}/grants.
type CreateGrantRequest struct {
	Receiver  string      `json:"receiver,omitempty"`
	Giver     string      `json:"giver,omitempty"`
	Approver  string      `json:"approver,omitempty"`
	Value     json.Number `json:"value"`
	Reason    string      `json:"reason"`
	GivenAt   *time.Time  `json:"given_at,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// DecisionRequest is the body of verify and approve calls.
type DecisionRequest struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// RedeemRequest is the body of POST /api/{kind}/redemptions.
type RedeemRequest struct {
	Target string      `json:"target"`
	Value  json.Number `json:"value"`
	Reason string      `json:"reason"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

const maxExactFloat = 1 << 53

// parseValue decodes an integral JSON number. An absent value is zero,
// which the engine rejects with the kind's own message.
func parseValue(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return v, nil
	}
	// 5.0 and 5e1 are integral
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return 0, ledger.Errorf(ledger.CodeValidation, "value must be an integer")
	}
	return int64(f), nil
}

// =============================================================================
// RESPONSES
// =============================================================================

// PersonDTO represents the authenticated person.
type PersonDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Points      int64    `json:"points"`
	Overtime    int64    `json:"overtime"`
}

// GrantDTO represents a point or overtime grant.
type GrantDTO struct {
	ID                string           `json:"id"`
	Kind              string           `json:"kind"`
	Receiver          string           `json:"receiver"`
	Giver             string           `json:"giver"`
	Approver          string           `json:"approver,omitempty"`
	Value             int64            `json:"value"`
	Hours             *decimal.Decimal `json:"hours,omitempty"`
	Reason            string           `json:"reason"`
	State             string           `json:"state"`
	Effective         bool             `json:"effective"`
	CreatedAt         time.Time        `json:"created_at"`
	GivenAt           *time.Time       `json:"given_at,omitempty"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	VerifiedAt        *time.Time       `json:"verified_at,omitempty"`
	RejectedAt        *time.Time       `json:"rejected_at,omitempty"`
	RejectedReason    string           `json:"rejected_reason,omitempty"`
	ApprovedAt        *time.Time       `json:"approved_at,omitempty"`
	DisapprovedAt     *time.Time       `json:"disapproved_at,omitempty"`
	DisapprovedReason string           `json:"disapproved_reason,omitempty"`
}

// RedemptionDTO represents a recorded redemption.
type RedemptionDTO struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Person     string    `json:"person"`
	RecordedBy string    `json:"recorded_by"`
	Value      int64     `json:"value"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// SummaryDTO represents a person's balance for one kind.
type SummaryDTO struct {
	Person         string           `json:"person"`
	Kind           string           `json:"kind"`
	Merit          int64            `json:"merit"`
	Demerit        int64            `json:"demerit"`
	Redeemed       int64            `json:"redeemed"`
	Available      int64            `json:"available"`
	AvailableHours *decimal.Decimal `json:"available_hours,omitempty"`
}

// TemplateDTO represents a preset point reason.
type TemplateDTO struct {
	ID      int64  `json:"id"`
	Reason  string `json:"reason"`
	Merit   int64  `json:"merit"`
	Demerit int64  `json:"demerit"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPersonDTO(p *ledger.Person) PersonDTO {
	perms := make([]string, len(p.Permissions))
	for i, perm := range p.Permissions {
		perms[i] = string(perm)
	}
	return PersonDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Role:        string(p.Role),
		Permissions: perms,
		Points:      p.Points,
		Overtime:    p.Overtime,
	}
}

func toGrantDTO(g ledger.Grant) GrantDTO {
	dto := GrantDTO{
		ID:                string(g.ID),
		Kind:              string(g.Kind),
		Receiver:          string(g.Receiver),
		Giver:             string(g.Giver),
		Approver:          string(g.Approver),
		Value:             g.Value,
		Reason:            g.Reason,
		State:             string(g.State),
		CreatedAt:         g.CreatedAt,
		GivenAt:           g.GivenAt,
		StartedAt:         g.StartedAt,
		EndedAt:           g.EndedAt,
		VerifiedAt:        g.VerifiedAt,
		RejectedAt:        g.RejectedAt,
		RejectedReason:    g.RejectedReason,
		ApprovedAt:        g.ApprovedAt,
		DisapprovedAt:     g.DisapprovedAt,
		DisapprovedReason: g.DisapprovedReason,
	}
	if kind, ok := ledger.LookupKind(string(g.Kind)); ok {
		dto.Effective = kind.Machine().Effective(g.State)
		if kind.Unit == "minutes" {
			h := ledger.Hours(g.Value)
			dto.Hours = &h
		}
	}
	return dto
}

func toGrantDTOs(gs []ledger.Grant) []GrantDTO {
	dtos := make([]GrantDTO, len(gs))
	for i, g := range gs {
		dtos[i] = toGrantDTO(g)
	}
	return dtos
}

func toRedemptionDTOs(rs []ledger.Redemption) []RedemptionDTO {
	dtos := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRedemptionDTO(r)
	}
	return dtos
}

func toRedemptionDTO(r ledger.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:         string(r.ID),
		Kind:       string(r.Kind),
		Person:     string(r.Person),
		RecordedBy: string(r.RecordedBy),
		Value:      r.Value,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
	}
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		Person:    string(s.Person),
		Kind:      string(s.Kind),
		Merit:     s.Merit,
		Demerit:   s.Demerit,
		Redeemed:  s.Redeemed,
		Available: s.Available,
	}
	if kind, ok := ledger.LookupKind(string(s.Kind)); ok && kind.Unit == "minutes" {
		h := s.Hours()
		dto.AvailableHours = &h
	}
	return dto
}
