package trust

import (
	"math"
	"strings"
)

// Tags treated as fraud indicators, matched case-insensitively.
var fraudTags = map[string]bool{
	"fraud":     true,
	"scam":      true,
	"malicious": true,
	"spam":      true,
	"phishing":  true,
}

// Recency bands over the feedback index range. On-chain feedback has no
// timestamp, so index position stands in for age: the top third of
// indexes counts as recent, the middle third as aging, the rest as old.
const (
	recentBand = 0.67
	agingBand  = 0.33
)

// Aggregator computes the weighted trust score from raw feedback.
type Aggregator struct {
	agingWeight   float64
	oldWeight     float64
	verifiedBoost float64
	minSampleSize int
}

// NewAggregator creates an aggregator with the default weighting: aging
// feedback at half weight, old at a fifth, verified submitters boosted
// 1.5x, and fewer than 3 samples flagging the agent as new.
func NewAggregator() *Aggregator {
	return &Aggregator{
		agingWeight:   0.5,
		oldWeight:     0.2,
		verifiedBoost: 1.5,
		minSampleSize: 3,
	}
}

// ComputeWTS aggregates feedback into a 0-100 score. Self-reviews by
// the agent owner and revoked entries are excluded; submitters in
// verifiedSubmitters get their weight boosted.
func (a *Aggregator) ComputeWTS(signals []FeedbackSignal, ownerAddress string, verifiedSubmitters map[string]bool) ReputationScore {
	ownerLower := strings.ToLower(ownerAddress)

	var revoked, selfReviews int
	eligible := make([]FeedbackSignal, 0, len(signals))
	for _, s := range signals {
		switch {
		case s.IsRevoked:
			revoked++
		case ownerLower != "" && strings.ToLower(s.ClientAddress) == ownerLower:
			selfReviews++
		default:
			eligible = append(eligible, s)
		}
	}

	var flags []string
	for _, s := range eligible {
		if fraudTags[strings.ToLower(s.Tag1)] || fraudTags[strings.ToLower(s.Tag2)] {
			flags = append(flags, "fraud")
			break
		}
	}

	sampleSize := len(eligible)
	newAgent := sampleSize < a.minSampleSize
	if newAgent {
		flags = append(flags, "new_agent")
	}

	var maxIndex uint64
	for _, s := range eligible {
		if s.FeedbackIndex > maxIndex {
			maxIndex = s.FeedbackIndex
		}
	}

	wts := 0
	verifiedCount := 0
	if len(eligible) == 0 {
		if len(flags) == 0 {
			flags = append(flags, "no_feedback")
		}
	} else {
		var weightedSum, weightTotal float64
		for _, s := range eligible {
			score := math.Max(0, math.Min(100, s.NormalizedScore()))
			weight := a.recencyWeight(s.FeedbackIndex, maxIndex)
			if verifiedSubmitters[strings.ToLower(s.ClientAddress)] {
				weight *= a.verifiedBoost
				verifiedCount++
			}
			weightedSum += score * weight
			weightTotal += weight
		}
		if weightTotal > 0 {
			wts = int(math.Round(weightedSum / weightTotal))
		}
	}

	if wts < 0 {
		wts = 0
	} else if wts > 100 {
		wts = 100
	}
	if wts < 30 && !hasFlag(flags, "fraud") {
		flags = append(flags, "low_wts")
	}

	return ReputationScore{
		WTS:                    wts,
		SampleSize:             sampleSize,
		NewAgent:               newAgent,
		Flags:                  flags,
		TotalFeedbackCount:     len(signals),
		RevokedCount:           revoked,
		SelfReviewCount:        selfReviews,
		VerifiedSubmitterCount: verifiedCount,
	}
}

func (a *Aggregator) recencyWeight(index, maxIndex uint64) float64 {
	if maxIndex == 0 {
		return 1.0
	}
	position := float64(index) / float64(maxIndex)
	switch {
	case position >= recentBand:
		return 1.0
	case position >= agingBand:
		return a.agingWeight
	default:
		return a.oldWeight
	}
}
