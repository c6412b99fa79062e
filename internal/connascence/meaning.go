package connascence

import (
	"context"
	"fmt"
	"sort"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// detectMeaning flags magic-literal occurrences sharing the same value
// across distinct scopes. Extractors record a literal
// occurrence as an Annotation{key: "magic_literal", value: <literal>,
// scope: <scope id>}; this detector groups them with a single indexed
// store query, an O(matches) lookup rather than a full scan.
func (a *Analyzer) detectMeaning(_ context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	byValue := map[string]map[int64]fact.ID{} // literal value -> scope -> owning annotation id
	annotations := s.Query(store.Pattern{
		Kind:  fact.KindAnnotation,
		Attrs: map[string]fact.Attr{"key": fact.String("magic_literal")},
	})
	for ann, ok := annotations.Next(); ok; ann, ok = annotations.Next() {
		val := ann.Attributes["value"].Str
		scope := ann.Attributes["scope"].Int
		if byValue[val] == nil {
			byValue[val] = map[int64]fact.ID{}
		}
		byValue[val][scope] = ann.ID
	}

	var findings []Finding
	for val, scopes := range byValue {
		if len(scopes) < 2 {
			continue
		}
		var ids []fact.ID
		for _, id := range scopes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		findings = append(findings, Finding{
			Kind:         model.ConnascenceMeaning,
			Participants: ids,
			Strength:     a.strength(s, ids),
			Rationale:    fmt.Sprintf("magic literal %q repeated across %d scopes", val, len(scopes)),
		})
	}
	return findings, nil
}
