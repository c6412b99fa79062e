package connascence

import (
	"context"
	"fmt"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// detectPosition flags call-site pairs that depend on positional
// argument order of length at least
// config.CouplingThresholds.PositionArity.
func (a *Analyzer) detectPosition(_ context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	threshold := a.cfg.CouplingThresholds.PositionArity

	type callSite struct {
		id       fact.ID
		argTypes string
		argCount int64
	}
	byShape := map[string][]callSite{}
	calls := s.Query(store.Pattern{Kind: fact.KindCall})
	for c, ok := calls.Next(); ok; c, ok = calls.Next() {
		count := c.Attributes["arg_count"].Int
		if int(count) < threshold {
			continue
		}
		shape := c.Attributes["arg_types"].Str
		byShape[shape] = append(byShape[shape], callSite{id: c.ID, argTypes: shape, argCount: count})
	}

	var findings []Finding
	for shape, sites := range byShape {
		if len(sites) < 2 {
			continue
		}
		for i := 0; i < len(sites); i++ {
			for j := i + 1; j < len(sites); j++ {
				participants := []fact.ID{sites[i].id, sites[j].id}
				findings = append(findings, Finding{
					Kind:         model.ConnascencePosition,
					Participants: participants,
					Strength:     a.strength(s, participants),
					Rationale:    fmt.Sprintf("call sites share %d-argument positional shape %q", sites[i].argCount, shape),
				})
			}
		}
	}
	return findings, nil
}
