package taint

import (
	"fmt"
	"hash/fnv"
	"sort"

	"hodeiscan/internal/fact"
)

// DataTag classifies the sensitivity of data a matcher tracks.
type DataTag string

const (
	TagPII         DataTag = "PII"
	TagFinance     DataTag = "Finance"
	TagCredentials DataTag = "Credentials"
	TagUserInput   DataTag = "UserInput"
	TagGeneric     DataTag = "Generic"
)

// Matcher is one source/sink/sanitizer pattern: a fact kind, a set of
// attribute predicates, and a data tag. Exact reports whether this
// matcher pins an identifier precisely (e.g. an exact name equality)
// versus a broader structural pattern (e.g. "any Variable with
// is_source=true"); the confidence formula discounts pattern matches.
type Matcher struct {
	Kind      fact.Kind
	Attrs     map[string]fact.Attr
	Tag       DataTag
	Exact     bool
}

func (m Matcher) matches(f fact.Fact) bool {
	if f.Kind != m.Kind {
		return false
	}
	for name, want := range m.Attrs {
		got, ok := f.Attributes[name]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Policy holds the three matcher sets the taint propagator consults
// each run. An empty Policy yields zero flows, not an error.
type Policy struct {
	Sources    []Matcher
	Sinks      []Matcher
	Sanitizers []Matcher
}

// Fingerprint is a deterministic content hash of the policy, the
// policy component of the analysis cache key. Matcher order within
// each set does not affect the hash.
func (p *Policy) Fingerprint() uint64 {
	if p == nil {
		return 0
	}
	h := fnv.New64a()
	for i, set := range [][]Matcher{p.Sources, p.Sinks, p.Sanitizers} {
		lines := make([]string, 0, len(set))
		for _, m := range set {
			names := make([]string, 0, len(m.Attrs))
			for name := range m.Attrs {
				names = append(names, name)
			}
			sort.Strings(names)
			line := fmt.Sprintf("%d|%s|%s|%v|", i, m.Kind, m.Tag, m.Exact)
			for _, name := range names {
				line += fmt.Sprintf("%s=%s;", name, m.Attrs[name].String())
			}
			lines = append(lines, line)
		}
		sort.Strings(lines)
		for _, line := range lines {
			h.Write([]byte(line))
		}
	}
	return h.Sum64()
}

// tagsFor returns every tag a fact matches across a matcher set, paired
// with whether the best (first) match was exact.
func tagsFor(f fact.Fact, matchers []Matcher) map[DataTag]bool {
	out := map[DataTag]bool{}
	for _, m := range matchers {
		if m.matches(f) {
			if existing, ok := out[m.Tag]; !ok || (!existing && m.Exact) {
				out[m.Tag] = m.Exact
			}
		}
	}
	return out
}
