package connascence

import (
	"context"
	"fmt"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// detectName flags pairs of identifiers whose names are similar enough
// to suggest semantic duplication, scored with a trigram overlap
// metric.
func (a *Analyzer) detectName(_ context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	type named struct {
		id   fact.ID
		name string
	}
	var identifiers []named
	funcs := s.Query(store.Pattern{Kind: fact.KindFunction})
	for f, ok := funcs.Next(); ok; f, ok = funcs.Next() {
		identifiers = append(identifiers, named{f.ID, f.Attributes["name"].Str})
	}

	var findings []Finding
	for i := 0; i < len(identifiers); i++ {
		for j := i + 1; j < len(identifiers); j++ {
			x, y := identifiers[i], identifiers[j]
			sim := trigramSimilarity(x.name, y.name)
			if sim < a.cfg.CouplingThresholds.NameSimilarity {
				continue
			}
			participants := []fact.ID{x.id, y.id}
			findings = append(findings, Finding{
				Kind:         model.ConnascenceName,
				Participants: participants,
				Strength:     a.strength(s, participants),
				Rationale:    fmt.Sprintf("identifiers %q and %q are %.0f%% similar", x.name, y.name, sim*100),
			})
		}
	}
	return findings, nil
}

// trigramSimilarity is the Sørensen–Dice coefficient over character
// trigrams (2·shared / (|A|+|B|)), 1.0 for identical strings and 0.0 for
// strings sharing no trigram.
func trigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(ta)+len(tb))
}

func trigrams(s string) map[string]bool {
	out := map[string]bool{}
	padded := "  " + s + "  "
	for i := 0; i+3 <= len(padded); i++ {
		out[padded[i:i+3]] = true
	}
	return out
}
