// Package models defines the turn-scoped types shared across the Concierge
// orchestration core: identity claims, intent matches, tool descriptors,
// agent responses, schedule requests/solutions, and the synthesized turn
// response. Everything here lives for one conversational turn and is
// discarded afterwards; nothing is persisted.
package models

import (
	"time"
)

// ── Domains ──────────────────────────────────────────────────

// Domain identifies one capability domain of the business backend.
type Domain string

const (
	DomainBooking      Domain = "booking"
	DomainCustomer     Domain = "customer"
	DomainDocument     Domain = "document"
	DomainTeam         Domain = "team"
	DomainTenant       Domain = "tenant"
	DomainDataAnalysis Domain = "data_analysis"
	DomainSetupGuide   Domain = "setup_guide"
)

// DomainPriority is the fixed ordering used for triage tie-breaks and for
// section ordering in the synthesized response. Lower index wins.
var DomainPriority = []Domain{
	DomainBooking,
	DomainCustomer,
	DomainDocument,
	DomainTeam,
	DomainTenant,
	DomainDataAnalysis,
	DomainSetupGuide,
}

// PriorityRank returns the position of d in DomainPriority.
// Unknown domains sort after all known ones.
func PriorityRank(d Domain) int {
	for i, p := range DomainPriority {
		if p == d {
			return i
		}
	}
	return len(DomainPriority)
}

// KnownDomain reports whether d is one of the fixed capability domains.
func KnownDomain(d Domain) bool {
	return PriorityRank(d) < len(DomainPriority)
}

// ── Identity ─────────────────────────────────────────────────

// Identity is the verified identity assertion for one turn.
// It is produced by the front-end's auth layer and consumed as-is;
// Concierge never re-verifies signatures and never mutates claims.
type Identity struct {
	// Subject is the unique caller identifier from the assertion.
	Subject string `json:"subject"`

	// Roles are the caller's role claims, e.g. "owner", "manager", "groomer".
	Roles []string `json:"roles"`

	// TenantID scopes every backend call made on the caller's behalf.
	TenantID string `json:"tenant_id"`

	// Region is the deployment region the tenant's data lives in.
	Region string `json:"region"`

	// Token is the raw assertion, forwarded verbatim as the backend
	// call credential. Never logged.
	Token string `json:"-"`
}

// HasRole reports whether the identity carries the given role claim.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of the
// given role claims. An empty requirement set means unrestricted.
func (id Identity) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if id.HasRole(r) {
			return true
		}
	}
	return false
}

// ── Triage ───────────────────────────────────────────────────

// IntentMatch is one triage decision: a candidate domain and the
// confidence the scoring model assigned to it.
type IntentMatch struct {
	Domain     Domain   `json:"domain"`
	Confidence float64  `json:"confidence"`
	Terms      []string `json:"terms,omitempty"`
}

// ── Tool descriptors ─────────────────────────────────────────

// FieldRule tags one structured response field with its visibility
// requirement. Roles and Condition are alternatives: Roles is a plain
// role-set check, Condition is an expression over the caller's claims
// (e.g. `"owner" in roles || tenant == "demo"`). Both empty means the
// field is visible to every caller.
type FieldRule struct {
	// Path is the dot-separated location of the field inside the
	// structured payload, e.g. "customer.phone".
	Path string `json:"path" yaml:"path"`

	Roles     []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ToolDescriptor declares one backend operation: where it lives, who may
// call it, and which of its response fields are role-gated. Descriptors
// are loaded once at process start and shared read-only.
type ToolDescriptor struct {
	OperationID   string      `json:"operation_id" yaml:"operation_id"`
	Domain        Domain      `json:"domain" yaml:"domain"`
	Method        string      `json:"method" yaml:"method"`
	Path          string      `json:"path" yaml:"path"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	RequiredRoles []string    `json:"required_roles,omitempty" yaml:"required_roles,omitempty"`
	FieldRules    []FieldRule `json:"field_rules,omitempty" yaml:"field_rules,omitempty"`
}

// ── Agent responses ──────────────────────────────────────────

// AgentResponse is one capability agent's output for a turn. A failed
// dispatch still produces a response: Err is populated and the payload
// left empty. Raw errors never cross the dispatch boundary.
type AgentResponse struct {
	Domain    Domain         `json:"domain"`
	Payload   map[string]any `json:"payload,omitempty"`
	Narrative string         `json:"narrative,omitempty"`
	Citations []string       `json:"citations,omitempty"`
	Err       *AgentError    `json:"error,omitempty"`
}

// Failed reports whether the dispatch producing this response failed.
func (r AgentResponse) Failed() bool { return r.Err != nil }

// ── Scheduling ───────────────────────────────────────────────

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TimeWindow is the required service window for a booking. A zero
// window means the booking may be placed anywhere in the working day.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether no window was declared.
func (w TimeWindow) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// Booking is one visit to schedule: a location, an optional required
// window, and a service duration.
type Booking struct {
	ID       string        `json:"id"`
	Location LatLng        `json:"location"`
	Window   TimeWindow    `json:"window,omitempty"`
	Duration time.Duration `json:"duration"`

	// Date pins the booking to a working day ("2006-01-02"). Derived
	// from the window start when empty and a window is declared.
	Date string `json:"date,omitempty"`
}

// ForecastSample is one per-location, per-slot weather observation.
// Slowdown is a transit multiplier: 1.0 is clear roads, 1.5 means legs
// through this slot take 50% longer. Samples at or above the block
// threshold make the leg infeasible.
type ForecastSample struct {
	Location  LatLng    `json:"location"`
	At        time.Time `json:"at"`
	Condition string    `json:"condition,omitempty"`
	Slowdown  float64   `json:"slowdown"`
}

// ScheduleRequest is the optimizer input, passed by value. Identical
// requests (including forecast samples) yield identical solutions.
type ScheduleRequest struct {
	Bookings []Booking        `json:"bookings"`
	Date     string           `json:"date"`
	Depot    LatLng           `json:"depot"`
	Forecast []ForecastSample `json:"forecast,omitempty"`

	// DayStart/DayEnd bound the working day in hours from midnight.
	// Zero values fall back to the optimizer defaults (08:00 to 18:00).
	DayStart int `json:"day_start,omitempty"`
	DayEnd   int `json:"day_end,omitempty"`
}

// UnscheduledReason explains why a booking could not be placed.
type UnscheduledReason string

const (
	ReasonWindowTooNarrow UnscheduledReason = "window_too_narrow"
	ReasonNoFeasibleSlot  UnscheduledReason = "no_feasible_slot"
	ReasonWeatherBlocked  UnscheduledReason = "weather_blocked"
)

// Visit is one scheduled stop with its estimated occupancy.
type Visit struct {
	BookingID string        `json:"booking_id"`
	Arrival   time.Time     `json:"arrival"`
	Departure time.Time     `json:"departure"`
	Travel    time.Duration `json:"travel"`
}

// Unscheduled is a booking the optimizer could not place, with the reason.
type Unscheduled struct {
	BookingID string            `json:"booking_id"`
	Reason    UnscheduledReason `json:"reason"`
}

// ScheduleSolution is the optimizer output. A partially infeasible day
// is still a valid solution: feasible visits are ordered in Visits and
// the rest land in Unscheduled. Read-only after creation.
type ScheduleSolution struct {
	Visits      []Visit       `json:"visits"`
	TotalTravel time.Duration `json:"total_travel"`
	Unscheduled []Unscheduled `json:"unscheduled,omitempty"`
}

// ── Synthesis ────────────────────────────────────────────────

// SynthesizedResponse is the final turn answer returned to the caller.
// Section order follows DomainPriority regardless of dispatch
// completion order.
type SynthesizedResponse struct {
	Narrative   string                    `json:"narrative"`
	Payloads    map[Domain]map[string]any `json:"payloads,omitempty"`
	Domains     []Domain                  `json:"domains"`
	Diagnostics []string                  `json:"diagnostics,omitempty"`
}
