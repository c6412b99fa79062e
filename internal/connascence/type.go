package connascence

import (
	"context"
	"fmt"
	"sort"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// detectType flags functions that reference the same concrete type in
// a load-bearing position (a Variable's declared type).
func (a *Analyzer) detectType(_ context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	byType := map[string]map[fact.ID]bool{}
	vars := s.Query(store.Pattern{Kind: fact.KindVariable})
	for v, ok := vars.Next(); ok; v, ok = vars.Next() {
		t := v.Attributes["type"].Str
		if t == "" {
			continue
		}
		owner := v.Attributes["owner_function"].Ref
		if byType[t] == nil {
			byType[t] = map[fact.ID]bool{}
		}
		byType[t][owner] = true
	}

	var findings []Finding
	for t, owners := range byType {
		if len(owners) < 2 {
			continue
		}
		var ids []fact.ID
		for id := range owners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		findings = append(findings, Finding{
			Kind:         model.ConnascenceType,
			Participants: ids,
			Strength:     a.strength(s, ids),
			Rationale:    fmt.Sprintf("%d functions share concrete type %q", len(ids), t),
		})
	}
	return findings, nil
}
