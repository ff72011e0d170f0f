// Package normalizer converts heterogeneous inbound signals into uniform
// Signal records, rejecting malformed input at the boundary.
package normalizer

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/coastwatch/breakwater/internal/domain"
)

const (
	// MaxContentLength bounds free-text content. Longer content is
	// truncated, not rejected.
	MaxContentLength = 2000

	// ClockSkewTolerance is how far in the future a timestamp may sit
	// before the signal is rejected as FutureTimestamp.
	ClockSkewTolerance = 2 * time.Minute
)

// sourceTrust maps source types to a baseline 0-1 reporter trust factor.
// Sensors are calibrated hardware; crowd reports are attributable; social
// posts are unverified.
var sourceTrust = map[domain.SignalSource]float64{
	domain.SourceSensor:      0.95,
	domain.SourceCrowdReport: 0.7,
	domain.SourceSocialPost:  0.4,
}

// Normalizer validates raw signals and produces Signal records.
// Normalize is a pure function aside from ID assignment; malformed input is
// reported to the caller, never silently dropped.
type Normalizer struct {
	clock clockwork.Clock
}

// New creates a normalizer using the given clock. A nil clock means real time.
func New(clock clockwork.Clock) *Normalizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Normalizer{clock: clock}
}

// Normalize converts a raw inbound signal into a Signal, or returns a
// *domain.ValidationError describing the first rejected field.
func (n *Normalizer) Normalize(raw *domain.RawSignal) (*domain.Signal, error) {
	source := domain.SignalSource(raw.Source)
	if raw.Source == "" {
		return nil, domain.NewValidationError("source", domain.ReasonMissingField, "")
	}
	if !source.Valid() {
		return nil, domain.NewValidationError("source", domain.ReasonUnknownValue, raw.Source)
	}

	category := domain.Category(raw.Category)
	if raw.Category == "" {
		return nil, domain.NewValidationError("category", domain.ReasonMissingField, "")
	}
	if !category.Valid() {
		return nil, domain.NewValidationError("category", domain.ReasonUnknownValue, raw.Category)
	}

	loc, err := normalizeLocation(raw)
	if err != nil {
		return nil, err
	}

	now := n.clock.Now().UTC()
	ts := raw.Timestamp
	if ts.IsZero() {
		return nil, domain.NewValidationError("timestamp", domain.ReasonMissingField, "")
	}
	ts = ts.UTC()
	if ts.After(now.Add(ClockSkewTolerance)) {
		return nil, domain.NewValidationError("timestamp", domain.ReasonFutureTimestamp, ts.Format(time.RFC3339))
	}

	content := strings.TrimSpace(raw.Content)
	if len(content) > MaxContentLength {
		// Back off to a rune boundary so truncation never leaves a
		// split multi-byte character behind.
		cut := MaxContentLength
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	return &domain.Signal{
		ID:              uuid.New().String(),
		Source:          source,
		Category:        category,
		Location:        loc,
		Timestamp:       ts,
		ReceivedAt:      now,
		RawSeverityHint: strings.ToLower(strings.TrimSpace(raw.RawSeverityHint)),
		EngagementScore: raw.EngagementScore,
		ReporterTrust:   sourceTrust[source],
		Content:         content,
	}, nil
}

// normalizeLocation requires valid coordinates or a place name; both absent
// is a rejection, both present is fine.
func normalizeLocation(raw *domain.RawSignal) (domain.Location, error) {
	loc := domain.Location{PlaceName: strings.TrimSpace(raw.PlaceName)}

	if raw.Lat != nil || raw.Lon != nil {
		if raw.Lat == nil || raw.Lon == nil {
			return loc, domain.NewValidationError("location", domain.ReasonMissingField, "lat and lon must be supplied together")
		}
		lat, lon := *raw.Lat, *raw.Lon
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return loc, domain.NewValidationError("location", domain.ReasonUnknownValue, "coordinates out of range")
		}
		loc.Lat = lat
		loc.Lon = lon
		loc.HasCoords = true
	}

	if !loc.HasCoords && loc.PlaceName == "" {
		return loc, domain.NewValidationError("location", domain.ReasonMissingLocation, "coordinates or placeName required")
	}

	return loc, nil
}
