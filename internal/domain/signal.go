// Package domain defines the core interfaces and types for Breakwater.
package domain

import (
	"time"
)

// SignalSource identifies the kind of producer a signal came from.
type SignalSource string

const (
	SourceCrowdReport SignalSource = "crowd_report"
	SourceSocialPost  SignalSource = "social_post"
	SourceSensor      SignalSource = "sensor"
)

// Valid reports whether the source is one of the known values.
func (s SignalSource) Valid() bool {
	switch s {
	case SourceCrowdReport, SourceSocialPost, SourceSensor:
		return true
	}
	return false
}

// Category classifies the kind of hazard a signal describes.
type Category string

const (
	CategoryWaveTsunami    Category = "wave_tsunami"
	CategoryOilSpill       Category = "oil_spill"
	CategoryErosion        Category = "erosion"
	CategoryPollution      Category = "pollution"
	CategoryMarineLife     Category = "marine_life"
	CategoryWeatherAnomaly Category = "weather_anomaly"
	CategoryOther          Category = "other"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryWaveTsunami, CategoryOilSpill, CategoryErosion,
		CategoryPollution, CategoryMarineLife, CategoryWeatherAnomaly, CategoryOther:
		return true
	}
	return false
}

// Location is a point on the coast, with an optional human-readable name.
// At least one of coordinates or place name must be present on a signal.
type Location struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	PlaceName string  `json:"placeName,omitempty"`

	// HasCoords distinguishes (0,0) from "no coordinates supplied".
	HasCoords bool `json:"hasCoords"`
}

// Signal is one normalized observation of a possible hazard.
// Signals are immutable once created; they are never mutated after ingestion.
type Signal struct {
	ID       string       `json:"id"`
	Source   SignalSource `json:"source"`
	Category Category     `json:"category"`
	Location Location     `json:"location"`

	// Timestamp is when the observation was made (source-declared).
	Timestamp time.Time `json:"timestamp"`

	// ReceivedAt is when the engine accepted the signal.
	ReceivedAt time.Time `json:"receivedAt"`

	// RawSeverityHint is an optional source-declared severity ("low".."critical").
	RawSeverityHint string `json:"rawSeverityHint,omitempty"`

	// EngagementScore is the social interaction count, when the source has one.
	EngagementScore float64 `json:"engagementScore,omitempty"`

	// ReporterTrust is a 0-1 trust factor derived from the source type.
	ReporterTrust float64 `json:"reporterTrust"`

	Content string `json:"content"`
}

// RawSignal is the inbound, not-yet-validated form of a signal as produced
// by report forms, social pollers, or sensor adapters.
type RawSignal struct {
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	PlaceName       string    `json:"placeName,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	RawSeverityHint string    `json:"rawSeverityHint,omitempty"`
	EngagementScore float64   `json:"engagementScore,omitempty"`
	Content         string    `json:"content"`
}

// FeatureContribution records how one feature contributed to a risk score.
type FeatureContribution struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Raw          float64 `json:"raw"`
	Contribution float64 `json:"contribution"`
}

// RiskScore is a 0-100 derived estimate of how credible/urgent a signal is.
// Computed once at ingestion; recomputed only when feature inputs change
// (e.g. the corroboration count grows as signals merge into an alert).
type RiskScore struct {
	Value    float64               `json:"value"`
	Features []FeatureContribution `json:"features"`
}
