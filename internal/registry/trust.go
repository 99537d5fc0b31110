package registry

import "time"

const (
	MaxTrustScore = 1000

	executionSaturation = 1000
	executionWeight     = 300
	successWeight       = 400

	recentWindowDays = 30
	staleWindowDays  = 90
)

// Score computes the running trust score of a skill at now.
// All arithmetic is integer and the result is capped at MaxTrustScore.
func Score(s *Skill, now time.Time) uint16 {
	var auditorWeight uint64
	for _, a := range s.Attestations {
		auditorWeight += uint64(a.Tier.Weight())
	}

	executions := s.ExecutionCount
	if executions > executionSaturation {
		executions = executionSaturation
	}
	executionFactor := executions * executionWeight / executionSaturation

	var successRate uint64
	if s.ExecutionCount > 0 {
		successRate = s.SuccessCount * successWeight / s.ExecutionCount
	}

	total := auditorWeight + executionFactor + successRate + uint64(recencyFactor(s.LastUsedAt, now))
	if total > MaxTrustScore {
		total = MaxTrustScore
	}
	return uint16(total)
}

// recencyFactor rewards recent use. A skill that was never used scores 0.
func recencyFactor(lastUsed, now time.Time) uint16 {
	if lastUsed.IsZero() {
		return 0
	}
	days := int64(now.Sub(lastUsed) / (24 * time.Hour))
	switch {
	case days < recentWindowDays:
		return 100
	case days < staleWindowDays:
		return 50
	default:
		return 0
	}
}

// EffectiveTrustScore resolves which score a reader should trust: a current
// consensus record overrides the running score until it expires.
func EffectiveTrustScore(s *Skill, current *ConsensusRecord, now time.Time) uint16 {
	if current != nil && current.Skill == s.ID && current.Current(now) {
		return current.TrustScore
	}
	return Score(s, now)
}
