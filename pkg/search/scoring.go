package search

import (
	"math"
	"sort"
	"time"

	"github.com/locai-dev/locai/pkg/locerr"
)

// DecayFunction selects how recency decays with age.
type DecayFunction string

const (
	DecayNone        DecayFunction = "none"
	DecayLinear      DecayFunction = "linear"
	DecayExponential DecayFunction = "exponential"
	DecayLogarithmic DecayFunction = "logarithmic"
)

// ScoringConfig is the multi-factor scoring applied on top of a primary
// result list:
//
//	final = bm25_weight·bm25 + vector_weight·vector + recency_boost·decay(age)
//	      + access_boost·log(1+access_count) + priority_boost·priority_level
//
// Weights are normalised to sum to 1 before application; age is measured in
// hours from created_at.
type ScoringConfig struct {
	BM25Weight    float64
	VectorWeight  float64
	RecencyBoost  float64
	AccessBoost   float64
	PriorityBoost float64

	Decay     DecayFunction
	DecayRate float64
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BM25Weight:    0.4,
		VectorWeight:  0.3,
		RecencyBoost:  0.15,
		AccessBoost:   0.1,
		PriorityBoost: 0.05,
		Decay:         DecayExponential,
		DecayRate:     0.01,
	}
}

// Validate rejects configs with no positive weight or a negative rate.
func (c ScoringConfig) Validate() error {
	if c.weightSum() <= 0 {
		return locerr.NewValidation("weights", "scoring weights must sum to a positive value")
	}
	if c.DecayRate < 0 {
		return locerr.NewValidation("decay_rate", "decay rate must be non-negative")
	}
	switch c.Decay {
	case "", DecayNone, DecayLinear, DecayExponential, DecayLogarithmic:
	default:
		return locerr.NewValidation("decay_function", "unknown decay function: "+string(c.Decay))
	}
	return nil
}

func (c ScoringConfig) weightSum() float64 {
	return c.BM25Weight + c.VectorWeight + c.RecencyBoost + c.AccessBoost + c.PriorityBoost
}

// DecayValue evaluates the configured decay at the given age. Every decay
// stays in [0,1] and never increases with age. Logarithmic is singular at
// age 0 (1/ln(1) = +Inf), so ages below a small epsilon return exactly 1 —
// the supremum every other decay also takes at age zero.
func (c ScoringConfig) DecayValue(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	switch c.Decay {
	case DecayLinear:
		v := 1 - ageHours*c.DecayRate
		if v < 0 {
			return 0
		}
		return v
	case DecayExponential:
		return math.Exp(-c.DecayRate * ageHours)
	case DecayLogarithmic:
		const epsilon = 1e-6
		if ageHours*c.DecayRate < epsilon {
			return 1
		}
		v := 1 / math.Log(1+ageHours*c.DecayRate)
		if v > 1 {
			return 1
		}
		if v < 0 {
			return 0
		}
		return v
	default:
		return 1
	}
}

// Apply rescores results with the normalised weights and re-sorts them
// descending. The primary list's Score field is treated as the BM25 input
// and Similarity as the vector input.
func (c ScoringConfig) Apply(results []Result, now time.Time) ([]Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sum := c.weightSum()
	bm25W := c.BM25Weight / sum
	vectorW := c.VectorWeight / sum
	recencyW := c.RecencyBoost / sum
	accessW := c.AccessBoost / sum
	priorityW := c.PriorityBoost / sum

	out := make([]Result, len(results))
	for i, r := range results {
		ageHours := now.Sub(r.Memory.CreatedAt).Hours()
		score := bm25W*r.Score +
			vectorW*r.Similarity +
			recencyW*c.DecayValue(ageHours) +
			accessW*math.Log(1+float64(r.Memory.AccessCount)) +
			priorityW*r.Memory.Priority.Level()
		out[i] = r
		out[i].Score = score
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
