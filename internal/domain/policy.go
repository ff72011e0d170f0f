package domain

import "time"

// DispatchPolicy routes alert transitions to notification channels. The
// expression is a CEL predicate over the transition event; when it
// evaluates true, the policy's channels receive a notification.
//
// Example: severity == "critical" && to_status == "active" -> ["pager"].
type DispatchPolicy struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is the CEL predicate. Available variables: category,
	// severity, from_status, to_status, risk_score, seq, plus an alert
	// map carrying id, category, severity, and risk_score.
	Expression string `json:"expression"`

	// Channels are the notification targets when the predicate matches
	// (e.g. "pager", "sms", "dashboard").
	Channels []string `json:"channels"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Notification is what the dispatch coordinator hands to the external
// notification collaborator, once per (alertId, seq) per channel set.
type Notification struct {
	AlertID   string          `json:"alertId"`
	Seq       int64           `json:"seq"`
	Channels  []string        `json:"channels"`
	Event     TransitionEvent `json:"event"`
	CreatedAt time.Time       `json:"createdAt"`
}
