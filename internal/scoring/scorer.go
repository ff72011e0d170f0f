// Package scoring computes 0-100 risk scores for signals from weighted
// features. Scoring is deterministic and side-effect free: no network
// calls, no stored state.
package scoring

import (
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/coastwatch/breakwater/internal/domain"
)

// maxCorroboration caps the corroboration feature: beyond five
// corroborating signals the feature saturates.
const maxCorroboration = 5

// engagementSaturation is the log1p(engagement) value treated as full
// scale. log1p(10000) ~ 9.2, so viral posts max the feature out.
var engagementSaturation = math.Log1p(10000)

// Scorer computes risk scores from a weighted feature model.
type Scorer struct {
	cfg   domain.ScoringConfig
	clock clockwork.Clock

	// normalized weights, summing to 1
	wTrust, wPrior, wEngagement, wRecency, wCorroboration float64
}

// New creates a scorer. Weights from the config are normalized so they sum
// to 1; a nil clock means real time.
func New(cfg domain.ScoringConfig, clock clockwork.Clock) *Scorer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	total := cfg.TrustWeight + cfg.CategoryPriorWeight + cfg.EngagementWeight +
		cfg.RecencyWeight + cfg.CorroborationWeight
	if total <= 0 {
		// degenerate config: fall back to equal weights
		total = 5
		cfg.TrustWeight, cfg.CategoryPriorWeight, cfg.EngagementWeight = 1, 1, 1
		cfg.RecencyWeight, cfg.CorroborationWeight = 1, 1
	}

	return &Scorer{
		cfg:            cfg,
		clock:          clock,
		wTrust:         cfg.TrustWeight / total,
		wPrior:         cfg.CategoryPriorWeight / total,
		wEngagement:    cfg.EngagementWeight / total,
		wRecency:       cfg.RecencyWeight / total,
		wCorroboration: cfg.CorroborationWeight / total,
	}
}

// Score computes the risk score for a signal given how many corroborating
// signals its alert has accumulated. corroborationCount of 0 means the
// signal stands alone.
func (s *Scorer) Score(sig *domain.Signal, corroborationCount int) *domain.RiskScore {
	features := make([]domain.FeatureContribution, 0, 5)

	add := func(name string, weight, raw float64) float64 {
		c := weight * raw * 100
		features = append(features, domain.FeatureContribution{
			Name:         name,
			Weight:       weight,
			Raw:          raw,
			Contribution: c,
		})
		return c
	}

	value := add("source_trust", s.wTrust, sig.ReporterTrust)
	value += add("category_prior", s.wPrior, s.categoryPrior(sig.Category)/100)
	value += add("engagement", s.wEngagement, engagementFactor(sig.EngagementScore))
	value += add("recency", s.wRecency, s.recencyDecay(sig))
	value += add("corroboration", s.wCorroboration, corroborationFactor(corroborationCount))

	// Source-declared severity hints nudge the score but never dominate:
	// a "critical" hint adds up to 10 points inside the clamp.
	value += severityHintBoost(sig.RawSeverityHint)

	return &domain.RiskScore{
		Value:    clamp(value, 0, 100),
		Features: features,
	}
}

// SeverityFor maps a score to its configured severity tier.
func (s *Scorer) SeverityFor(score *domain.RiskScore) domain.Severity {
	return domain.SeverityForScore(score.Value, s.cfg.Severity)
}

// categoryPrior returns the 0-100 severity prior for a category. Unknown
// categories get the conservative mid-tier prior, never the maximum, to
// avoid false criticals.
func (s *Scorer) categoryPrior(c domain.Category) float64 {
	if p, ok := s.cfg.CategoryPriors[c]; ok {
		return p
	}
	return s.cfg.UnknownCategoryPrior
}

// recencyDecay is 1.0 at ingestion and decays toward 0 with the configured
// half-life, so alert-level recomputation discounts aging signals.
func (s *Scorer) recencyDecay(sig *domain.Signal) float64 {
	if s.cfg.RecencyHalfLife <= 0 {
		return 1
	}
	age := s.clock.Now().UTC().Sub(sig.Timestamp)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/s.cfg.RecencyHalfLife.Hours())
}

func engagementFactor(engagement float64) float64 {
	if engagement <= 0 {
		return 0
	}
	return clamp(math.Log1p(engagement)/engagementSaturation, 0, 1)
}

func corroborationFactor(count int) float64 {
	if count < 0 {
		count = 0
	}
	if count > maxCorroboration {
		count = maxCorroboration
	}
	return float64(count) / maxCorroboration
}

func severityHintBoost(hint string) float64 {
	switch hint {
	case "critical":
		return 10
	case "high":
		return 6
	case "medium":
		return 3
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
