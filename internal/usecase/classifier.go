package usecase

import (
	"math"
	"sort"
	"time"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// Classifier aggregates signal vectors into ranked candidate lists.
// Pure: identical inputs (including calibration state) produce
// bit-identical output.
type Classifier struct {
	scorer     *SignalScorer
	weights    config.SignalWeights
	intents    map[string]string // agent id -> intent label
	autoActMin int               // dispatch top-tier threshold
}

// NewClassifier creates a classifier. autoActMin is the minimum
// confidence of the dispatch domain's top tier.
func NewClassifier(scorer *SignalScorer, weights config.SignalWeights, intents map[string]string, autoActMin int) *Classifier {
	return &Classifier{
		scorer:     scorer,
		weights:    weights,
		intents:    intents,
		autoActMin: autoActMin,
	}
}

// Classify scores every catalog candidate against the request.
// accessStats and calibration may be nil. Candidates are ranked by
// descending confidence with ties broken by catalog order.
func (c *Classifier) Classify(
	requestText string,
	agents, skills []domain.CatalogEntry,
	accessStats map[string]domain.AccessStats,
	calibration []domain.CalibrationAdjustment,
	now time.Time,
) domain.ClassificationResult {
	calIndex := indexCalibration(calibration)

	rankedAgents := c.rank(requestText, agents, accessStats, calIndex, now)
	rankedSkills := c.rank(requestText, skills, accessStats, calIndex, now)

	result := domain.ClassificationResult{
		RankedAgents:   rankedAgents,
		RankedSkills:   rankedSkills,
		DominantIntent: "general",
	}
	if top := result.TopAgent(); top != nil {
		result.OverallConfidence = top.Confidence
		if intent, ok := c.intents[top.ID]; ok {
			result.DominantIntent = intent
		}
	}
	result.ShouldAutoAct = result.OverallConfidence >= c.autoActMin
	return result
}

func (c *Classifier) rank(
	requestText string,
	entries []domain.CatalogEntry,
	accessStats map[string]domain.AccessStats,
	calIndex map[string]int,
	now time.Time,
) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, len(entries))
	for _, entry := range entries {
		var stats *domain.AccessStats
		if s, ok := accessStats[entry.ID]; ok {
			stats = &s
		}
		signals := c.scorer.Score(requestText, entry, stats, now)
		candidates = append(candidates, domain.Candidate{
			ID:             entry.ID,
			Confidence:     c.aggregate(entry.ID, signals, calIndex),
			MatchedSignals: signals,
		})
	}
	// Stable keeps catalog order for equal confidence.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// aggregate combines a signal vector via the configured weighted sum,
// applies matching calibration deltas, and clamps to [0,100].
func (c *Classifier) aggregate(targetID string, signals []domain.Signal, calIndex map[string]int) int {
	var sum float64
	for _, sig := range signals {
		sum += float64(sig.Weight) * c.weight(sig.Kind)
	}
	confidence := int(math.Round(sum))
	for _, sig := range signals {
		if delta, ok := calIndex[string(sig.Kind)+":"+targetID]; ok {
			confidence += delta
		}
	}
	return clampScore(confidence)
}

func (c *Classifier) weight(kind domain.SignalKind) float64 {
	switch kind {
	case domain.SignalKeyword:
		return c.weights.Keyword
	case domain.SignalRecency:
		return c.weights.Recency
	case domain.SignalFrequency:
		return c.weights.Frequency
	case domain.SignalRelevance:
		return c.weights.Relevance
	default:
		return 0
	}
}

func indexCalibration(adjustments []domain.CalibrationAdjustment) map[string]int {
	if len(adjustments) == 0 {
		return nil
	}
	idx := make(map[string]int, len(adjustments))
	for _, a := range adjustments {
		idx[a.CalibrationKey()] = a.Delta
	}
	return idx
}
