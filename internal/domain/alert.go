package domain

import (
	"fmt"
	"time"
)

// Severity is the derived urgency tier of an alert. It is never set
// directly; it is computed from member signal risk scores.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparisons and max-merging.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity (low=0..critical=3).
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityForScore maps a 0-100 risk score to a severity tier.
// Tier boundaries are configurable; these are the defaults.
func SeverityForScore(value float64, t SeverityThresholds) Severity {
	switch {
	case value >= t.Critical:
		return SeverityCritical
	case value >= t.High:
		return SeverityHigh
	case value >= t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityThresholds holds the score cutoffs for each severity tier.
type SeverityThresholds struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive        Status = "active"
	StatusResponding    Status = "responding"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResponding, StatusInvestigating, StatusResolved:
		return true
	}
	return false
}

// validTransitions is the alert state machine. Resolved is terminal:
// reopening requires a new alert referencing the old one.
var validTransitions = map[Status][]Status{
	StatusActive:        {StatusResponding, StatusInvestigating, StatusResolved},
	StatusResponding:    {StatusInvestigating, StatusResolved},
	StatusInvestigating: {StatusResolved},
	StatusResolved:      {},
}

// CanTransition reports whether the edge from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActionType labels entries in an alert's action log.
type ActionType string

const (
	ActionOpened         ActionType = "opened"
	ActionSignalMerged   ActionType = "signal_merged"
	ActionTransition     ActionType = "transition"
	ActionStaleResolve   ActionType = "stale_resolve"
	ActionDispatchFailed ActionType = "dispatch_failed"
)

// AlertAction is one timestamped entry in an alert's ordered action log.
type AlertAction struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      ActionType `json:"type"`
	From      Status     `json:"from,omitempty"`
	To        Status     `json:"to,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	SignalID  string     `json:"signalId,omitempty"`
}

// Alert is an aggregated, lifecycle-managed hazard event composed of one or
// more signals believed to describe the same real-world incident.
type Alert struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`

	// Location is the centroid of member signal coordinates.
	Location Location `json:"location"`

	OpenedAt      time.Time  `json:"openedAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	ResolveReason string     `json:"resolveReason,omitempty"`

	// MemberSignalIDs is ordered by arrival and is never empty.
	MemberSignalIDs []string `json:"memberSignalIds"`

	ResponderCount   int `json:"responderCount"`
	AffectedEstimate int `json:"affectedEstimate"`

	// Actions is the ordered log of applied response actions.
	Actions []AlertAction `json:"actions"`

	// TransitionSeq increments on every committed transition and is the
	// dispatch dedup key component.
	TransitionSeq int64 `json:"transitionSeq"`

	// MaxRiskScore is the highest member signal risk score seen so far.
	MaxRiskScore float64 `json:"maxRiskScore"`

	// CoordCount tracks how many members carried coordinates, so the
	// centroid can be updated incrementally.
	CoordCount int `json:"coordCount"`
}

// MustHaveMembers panics if the alert has an empty member list. An alert
// without members is an unreachable state; failing loudly here surfaces the
// corruption instead of propagating it.
func (a *Alert) MustHaveMembers() {
	if len(a.MemberSignalIDs) == 0 {
		panic(fmt.Sprintf("alert %s has no member signals", a.ID))
	}
}

// Clone returns a deep copy of the alert, safe to hand out as a snapshot
// while the original keeps mutating under its lock.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.MemberSignalIDs = append([]string(nil), a.MemberSignalIDs...)
	cp.Actions = append([]AlertAction(nil), a.Actions...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// MergeCentroid folds a new coordinate into the alert's running centroid.
func (a *Alert) MergeCentroid(loc Location) {
	if !loc.HasCoords {
		return
	}
	if !a.Location.HasCoords {
		a.Location.Lat = loc.Lat
		a.Location.Lon = loc.Lon
		a.Location.HasCoords = true
		a.CoordCount = 1
		return
	}
	n := float64(a.CoordCount)
	a.Location.Lat = (a.Location.Lat*n + loc.Lat) / (n + 1)
	a.Location.Lon = (a.Location.Lon*n + loc.Lon) / (n + 1)
	a.CoordCount++
}

// TransitionEvent is the payload published on every committed transition.
// Delivery is at-least-once; consumers dedupe on (alertId, seq).
type TransitionEvent struct {
	AlertID    string    `json:"alertId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	Severity   Severity  `json:"severity"`
	Category   Category  `json:"category"`
	RiskScore  float64   `json:"riskScore"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        int64     `json:"seq"`
	Reason     string    `json:"reason,omitempty"`
}

// AlertStats summarizes the alert store for dashboard views.
type AlertStats struct {
	ByStatus   map[Status]int   `json:"byStatus"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByCategory map[Category]int `json:"byCategory"`
	TotalOpen  int              `json:"totalOpen"`
	Total      int              `json:"total"`
}
