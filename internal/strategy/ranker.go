// Package strategy selects which breakout signal to trade: candidates are
// ranked by relative stop distance and admitted by a reference index gate.
package strategy

import (
	"math"
	"sort"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// MinCandidates is the smallest signal set the ranker will order. A lone
// signal gives nothing to compare against and is not traded automatically.
const MinCandidates = 2

// Rank orders signals ascending by stop-loss percentage (lowest relative risk
// first). Signals whose SL% cannot be computed (non-positive entry) are
// dropped first; an empty slice is returned when fewer than MinCandidates
// remain. Ties keep their input order.
func Rank(signals []domain.Signal) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(signals))
	for _, s := range signals {
		pct := s.SLPercent()
		if math.IsInf(pct, 0) || math.IsNaN(pct) {
			continue
		}
		out = append(out, domain.Candidate{Signal: s, SLPercent: pct})
	}
	if len(out) < MinCandidates {
		return []domain.Candidate{}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SLPercent < out[j].SLPercent
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
