// Package score implements the weighted-rating aggregator used by the
// risk-engineering module family: per-factor weighted scores, a summed
// total, and worst-of pillar reduction so a single severe peril cannot be
// diluted by several benign ones.
package score

import (
	"sort"

	"github.com/fraser/firewarden/internal/models"
)

// Factor is one rated risk factor. Key is the canonical identifier, stable
// across display-label changes. An out-of-domain Rating (including the zero
// value for "not yet rated") scores at the neutral midpoint.
type Factor struct {
	Key        string
	Label      string
	PerilGroup string
	Rating     models.Rating
	Weight     float64
}

// Scored pairs a factor with its derived weighted score.
type Scored struct {
	Factor
	Score float64
}

// Result is the aggregate of one factor group.
type Result struct {
	Total        float64
	PerFactor    []Scored
	PillarRating models.Rating
}

// scoreOf derives one factor's weighted score, substituting the neutral
// midpoint for unrated factors.
func scoreOf(f Factor) float64 {
	return float64(f.Rating.OrNeutral()) * f.Weight
}

// Score aggregates factors: Total is the sum of rating x weight, PerFactor
// preserves declaration order, and PillarRating is the minimum effective
// rating across the group. An empty group yields a neutral pillar.
func Score(factors []Factor) Result {
	result := Result{
		PerFactor:    make([]Scored, 0, len(factors)),
		PillarRating: models.NeutralRating,
	}
	for i, f := range factors {
		s := scoreOf(f)
		result.PerFactor = append(result.PerFactor, Scored{Factor: f, Score: s})
		result.Total += s
		effective := f.Rating.OrNeutral()
		if i == 0 || effective < result.PillarRating {
			result.PillarRating = effective
		}
	}
	return result
}

// Rescore recomputes a single factor's rating within an existing result,
// adjusting the total by exactly (new - old) x weight and re-deriving the
// pillar. Unrelated factors are not re-derived. Unknown keys leave the
// result unchanged.
func Rescore(r Result, key string, rating models.Rating) Result {
	for i, sf := range r.PerFactor {
		if sf.Key != key {
			continue
		}
		old := sf.Score
		sf.Rating = rating
		sf.Score = scoreOf(sf.Factor)
		r.PerFactor[i] = sf
		r.Total += sf.Score - old
		r.PillarRating = pillarOf(r.PerFactor)
		return r
	}
	return r
}

// pillarOf returns the minimum effective rating across scored factors.
func pillarOf(factors []Scored) models.Rating {
	pillar := models.NeutralRating
	for i, sf := range factors {
		effective := sf.Rating.OrNeutral()
		if i == 0 || effective < pillar {
			pillar = effective
		}
	}
	return pillar
}

// Pillar reduces a peril group to its worst effective rating. Deliberately
// the minimum, not an average.
func Pillar(factors []Factor) models.Rating {
	pillar := models.NeutralRating
	for i, f := range factors {
		effective := f.Rating.OrNeutral()
		if i == 0 || effective < pillar {
			pillar = effective
		}
	}
	return pillar
}

// CombinePillars rolls two pillar ratings (e.g. environmental exposure vs
// human/malicious) into one overall rating, again worst-of.
func CombinePillars(a, b models.Rating) models.Rating {
	a, b = a.OrNeutral(), b.OrNeutral()
	if a < b {
		return a
	}
	return b
}

// GroupByPeril splits factors into their peril groups, preserving
// declaration order within each group. Group iteration order follows first
// appearance.
func GroupByPeril(factors []Factor) (groups map[string][]Factor, order []string) {
	groups = make(map[string][]Factor)
	for _, f := range factors {
		if _, seen := groups[f.PerilGroup]; !seen {
			order = append(order, f.PerilGroup)
		}
		groups[f.PerilGroup] = append(groups[f.PerilGroup], f)
	}
	return groups, order
}

// TopContributors returns the n highest-scoring factors for executive
// reporting, sorted by weighted score descending. Ties keep declaration
// order. n larger than the factor count returns everything.
func TopContributors(factors []Factor, n int) []Scored {
	scored := make([]Scored, 0, len(factors))
	for _, f := range factors {
		scored = append(scored, Scored{Factor: f, Score: scoreOf(f)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if n < 0 {
		n = 0
	}
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n]
}
