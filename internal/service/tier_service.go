package service

import (
	"amora/internal/model"

	"github.com/rs/zerolog"
)

// Scorer derives a numeric reputation score from behavioral signals. The
// formula is a pluggable policy: swapping the implementation must not affect
// anything but where users land on the tier ladder.
type Scorer interface {
	Score(signals model.ReputationSignals) int
}

// Tier thresholds over the score scale. Monotonic: a higher score can never
// produce a lower tier.
var tierThresholds = []struct {
	min  int
	tier model.ReputationTier
}{
	{1500, model.TierDistinguished},
	{700, model.TierTrusted},
	{300, model.TierEstablished},
	{100, model.TierActive},
	{0, model.TierNew},
}

// ClassifyScore maps a score onto the tier ladder.
func ClassifyScore(score int) model.ReputationTier {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return model.TierNew
}

// WeightedScorer is the default scoring policy: rewards profile completion,
// verification, responsiveness and account age, penalizes blocks and reports.
type WeightedScorer struct{}

func (WeightedScorer) Score(s model.ReputationSignals) int {
	score := 0

	completion := s.ProfileCompletionPct
	if completion > 100 {
		completion = 100
	}
	score += completion * 2

	if s.Verified {
		score += 150
	}

	rate := s.ResponseRate
	if rate > 1 {
		rate = 1
	}
	if rate > 0 {
		score += int(rate * 200)
	}

	age := s.AccountAgeDays
	if age > 365 {
		age = 365
	}
	score += age

	score -= s.BlocksReceived * 50
	score -= s.ReportsReceived * 100

	if score < 0 {
		score = 0
	}
	return score
}

// TierService turns behavioral signals into a (tier, score) pair.
type TierService interface {
	Classify(signals model.ReputationSignals) (model.ReputationTier, int)
}

type tierService struct {
	scorer Scorer
	logger zerolog.Logger
}

// NewTierService creates a TierService around the given scoring policy.
func NewTierService(scorer Scorer, logger zerolog.Logger) TierService {
	return &tierService{
		scorer: scorer,
		logger: logger.With().Str("service", "TierService").Logger(),
	}
}

func (s *tierService) Classify(signals model.ReputationSignals) (model.ReputationTier, int) {
	score := s.scorer.Score(signals)
	tier := ClassifyScore(score)
	s.logger.Debug().Int("score", score).Str("tier", string(tier)).Msg("Classified reputation signals")
	return tier, score
}
