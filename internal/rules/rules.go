// Package rules implements the query planner and rule evaluator:
// stratifies compiled rules by producer/consumer dependency, evaluates
// each stratum's rules concurrently, and emits findings in ascending
// leading-index id order within a rule.
package rules

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/store"
)

// Severity classifies a Finding.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
	SeverityInfo     Severity = "Info"
)

// Finding is one rule match, emitted per the rule's template.
type Finding struct {
	RuleID      string
	Kind        fact.Kind
	Severity    Severity
	Location    fact.Location
	Message     string
	Fingerprint string
	Metadata    map[string]string
}

// BodyPredicate is one conjunct of a rule's body: an equality pattern
// over a fact kind, optionally refined by a dynamic CEL constraint
// evaluated against the candidate fact's attributes.
type BodyPredicate struct {
	Kind   fact.Kind
	Attrs  map[string]fact.Attr
	CELExp string // optional; empty means no dynamic constraint
}

// HeadTemplate describes how a matched body produces a Finding.
type HeadTemplate struct {
	Kind     fact.Kind // the kind this rule's head "produces", used for stratification
	Severity Severity
	Message  string // may reference body attributes as ${attr}; kept opaque here
}

// CompiledRule is the opaque shape an external DSL compiler hands the
// evaluator: a head pattern/template plus a body of predicates. The
// engine never parses rule source; this is the only shape it
// understands.
type CompiledRule struct {
	ID   string
	Head HeadTemplate
	Body []BodyPredicate
}

// RuleCycleError is returned at compile time when the rule dependency
// graph is not a DAG.
type RuleCycleError struct {
	Cycle []string
}

func (e *RuleCycleError) Error() string {
	return fmt.Sprintf("rules: dependency cycle detected among rules %v", e.Cycle)
}

// plan is the cached evaluation plan for one compiled rule.
type plan struct {
	rule        CompiledRule
	fingerprint uint64
	programs    map[int]cel.Program // body index -> compiled CEL program, for predicates with CELExp set
}

// Evaluator evaluates a fixed rule set against a frozen store.
type Evaluator struct {
	store    *store.Store
	rules    []CompiledRule
	strata   [][]CompiledRule
	plans    map[string]*plan
	failFast bool

	// Parallelism bounds the number of rules evaluated concurrently
	// within one stratum. Zero means unbounded.
	Parallelism int

	mu       sync.Mutex
	warnings int64
}

// NewEvaluator compiles plans and stratifies rules by dependency. A
// rule B depends on rule A when B's body references a kind that A's
// head produces.
func NewEvaluator(s *store.Store, compiled []CompiledRule, failFast bool) (*Evaluator, error) {
	e := &Evaluator{store: s, rules: compiled, plans: make(map[string]*plan, len(compiled)), failFast: failFast}

	for _, r := range compiled {
		p, err := buildPlan(r)
		if err != nil {
			return nil, fmt.Errorf("rules: compile %q: %w", r.ID, err)
		}
		e.plans[r.ID] = p
	}

	strata, err := stratify(compiled)
	if err != nil {
		return nil, err
	}
	e.strata = strata
	return e, nil
}

func buildPlan(r CompiledRule) (*plan, error) {
	fp := fnv.New64a()
	fp.Write([]byte(r.ID))
	fp.Write([]byte(r.Head.Kind))
	for _, b := range r.Body {
		fp.Write([]byte(b.Kind))
		fp.Write([]byte(b.CELExp))
	}

	programs := map[int]cel.Program{}
	for i, b := range r.Body {
		if b.CELExp == "" {
			continue
		}
		env, err := cel.NewEnv(cel.Variable("attrs", cel.DynType))
		if err != nil {
			return nil, err
		}
		ast, issues := env.Compile(b.CELExp)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("body predicate %d: %w", i, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, err
		}
		programs[i] = prg
	}

	return &plan{rule: r, fingerprint: fp.Sum64(), programs: programs}, nil
}

// stratify builds the producer/consumer dependency DAG and topologically
// sorts it (Kahn's algorithm) into strata: each stratum is the set of
// rules whose dependencies are all satisfied by earlier strata.
func stratify(rules []CompiledRule) ([][]CompiledRule, error) {
	producesKind := map[fact.Kind][]int{}
	for i, r := range rules {
		producesKind[r.Head.Kind] = append(producesKind[r.Head.Kind], i)
	}

	deps := make([][]int, len(rules)) // deps[i] = indices rule i depends on
	dependents := make([][]int, len(rules))
	indegree := make([]int, len(rules))
	for i, r := range rules {
		seen := map[int]bool{}
		for _, b := range r.Body {
			for _, producer := range producesKind[b.Kind] {
				if producer == i || seen[producer] {
					continue
				}
				seen[producer] = true
				deps[i] = append(deps[i], producer)
				dependents[producer] = append(dependents[producer], i)
				indegree[i]++
			}
		}
	}

	var strata [][]CompiledRule
	remaining := indegree
	done := make([]bool, len(rules))
	processed := 0
	for processed < len(rules) {
		var stratum []int
		for i := range rules {
			if !done[i] && remaining[i] == 0 {
				stratum = append(stratum, i)
			}
		}
		if len(stratum) == 0 {
			var names []string
			for i, r := range rules {
				if !done[i] {
					names = append(names, r.ID)
				}
			}
			return nil, &RuleCycleError{Cycle: names}
		}
		sort.Ints(stratum)
		var layer []CompiledRule
		for _, i := range stratum {
			done[i] = true
			processed++
			layer = append(layer, rules[i])
			for _, dep := range dependents[i] {
				remaining[dep]--
			}
		}
		strata = append(strata, layer)
	}
	return strata, nil
}

// Warnings reports the cumulative count of dropped runtime match
// errors, for RunSummary.
func (e *Evaluator) Warnings() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings
}

func (e *Evaluator) warn() {
	e.mu.Lock()
	e.warnings++
	e.mu.Unlock()
}

// Evaluate runs every stratum in order, each stratum's rules
// concurrently via errgroup. The Wait at each stratum boundary is the
// barrier that makes one stratum's outputs visible to the next.
func (e *Evaluator) Evaluate(ctx context.Context) ([]Finding, error) {
	log := logging.Get(logging.CategoryRules)
	var all []Finding
	var allMu sync.Mutex

	for si, stratum := range e.strata {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, gctx := errgroup.WithContext(ctx)
		if e.Parallelism > 0 {
			g.SetLimit(e.Parallelism)
		}
		for _, rule := range stratum {
			rule := rule
			g.Go(func() error {
				findings, err := e.evaluateRule(gctx, rule)
				if err != nil {
					if e.failFast {
						return err
					}
					e.warn()
					log.Warnf("rule %q: %v (fail_fast=false, continuing)", rule.ID, err)
					return nil
				}
				allMu.Lock()
				all = append(all, findings...)
				allMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		log.Debugf("stratum %d: %d rules evaluated", si, len(stratum))
	}
	return all, nil
}

// evaluateRule matches a single rule's body against the store, in
// ascending id order of the leading (smallest-bucket) predicate,
// dropping any candidate whose optional CEL constraint errors at
// runtime (dropped and counted, not fatal).
func (e *Evaluator) evaluateRule(ctx context.Context, rule CompiledRule) ([]Finding, error) {
	if len(rule.Body) == 0 {
		return nil, fmt.Errorf("rule %q has an empty body", rule.ID)
	}
	p := e.plans[rule.ID]

	leadIdx := e.cheapestLeadingPredicate(rule)
	lead := rule.Body[leadIdx]

	matches := e.store.Query(store.Pattern{Kind: lead.Kind, Attrs: lead.Attrs})
	var findings []Finding
	for f, ok := matches.Next(); ok; f, ok = matches.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prg, ok := p.programs[leadIdx]; ok {
			match, err := e.evalCEL(prg, f)
			if err != nil {
				// Runtime match error (type mismatch, absent attribute):
				// drop the candidate, count it, keep going.
				e.warn()
				continue
			}
			if !match {
				continue
			}
		}
		if !e.restBodySatisfied(rule, leadIdx, f) {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      rule.ID,
			Kind:        rule.Head.Kind,
			Severity:    rule.Head.Severity,
			Location:    f.Location,
			Message:     rule.Head.Message,
			Fingerprint: fingerprintFinding(rule.ID, f),
			Metadata:    attrsToMetadata(f.Attributes),
		})
	}
	return findings, nil
}

// cheapestLeadingPredicate picks the body predicate with the smallest
// estimated bucket size, ties broken toward attribute indexes over the
// bare kind index.
func (e *Evaluator) cheapestLeadingPredicate(rule CompiledRule) int {
	best, bestSize, bestByAttr := 0, -1, false
	for i, b := range rule.Body {
		size := e.store.KindBucketSize(b.Kind)
		byAttr := false
		for attr, val := range b.Attrs {
			if n := e.store.IndexBucketSize(b.Kind, attr, val); n <= size {
				size, byAttr = n, true
			}
		}
		if bestSize == -1 || size < bestSize || (size == bestSize && byAttr && !bestByAttr) {
			best, bestSize, bestByAttr = i, size, byAttr
		}
	}
	return best
}

// restBodySatisfied checks every non-leading body predicate as an
// independent store query (a conjunction, not a join across different
// kinds); a predicate that finds zero matches in the whole store fails
// the rule for this candidate.
func (e *Evaluator) restBodySatisfied(rule CompiledRule, leadIdx int, _ fact.Fact) bool {
	for i, b := range rule.Body {
		if i == leadIdx {
			continue
		}
		if e.store.Count(store.Pattern{Kind: b.Kind, Attrs: b.Attrs}) == 0 {
			return false
		}
	}
	return true
}

// evalCEL evaluates a compiled constraint against a fact's attribute
// map. A non-nil error means a runtime match error; a clean false is an
// ordinary non-match.
func (e *Evaluator) evalCEL(prg cel.Program, f fact.Fact) (bool, error) {
	attrs := make(map[string]interface{}, len(f.Attributes))
	for k, v := range f.Attributes {
		attrs[k] = v.String()
	}
	out, _, err := prg.Eval(map[string]interface{}{"attrs": attrs})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("constraint evaluated to non-boolean %T", out.Value())
	}
	return b, nil
}

func fingerprintFinding(ruleID string, f fact.Fact) string {
	h := fnv.New64a()
	h.Write([]byte(ruleID))
	h.Write([]byte(f.Location.File))
	fmt.Fprintf(h, ":%d:%d", f.ID, f.Location.Line)
	return fmt.Sprintf("%x", h.Sum64())
}

func attrsToMetadata(attrs map[string]fact.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v.String()
	}
	return out
}
