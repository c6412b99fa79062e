// Package engine glues the fact store, semantic model builder, rule
// evaluator, taint propagator, and connascence analyzer into one
// cancellable, deadline-bound analysis pass, memoizing the expensive
// derivations in the analysis cache between runs.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hodeiscan/internal/cache"
	"hodeiscan/internal/config"
	"hodeiscan/internal/connascence"
	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/model"
	"hodeiscan/internal/rules"
	"hodeiscan/internal/store"
	"hodeiscan/internal/taint"
)

// analyzerVersion participates in every cache key so a rebuilt engine
// never serves another version's memoized results.
const analyzerVersion = "hodeiscan/1"

// cacheMaxEntries bounds each of the engine's three caches.
const cacheMaxEntries = 128

// ErrCancelled is returned when ctx is done at any of the checked
// suspension points (stratum edges, Datalog iterations, detector-pass
// edges). Mapped to exit code 2.
var ErrCancelled = errors.New("engine: analysis cancelled")

// ErrInvariantViolation signals a bug: an impossible internal state was
// reached. Mapped to exit code 3.
var ErrInvariantViolation = errors.New("engine: invariant violation")

// Request is the engine's per-run input: a frozen fact store plus the
// rules, taint policy, and deadline to run over it.
type Request struct {
	Store    *store.Store
	Rules    []rules.CompiledRule
	Policy   *taint.Policy
	Config   *config.Config // overrides the Engine's config when set; Run-level convenience
	Deadline time.Duration  // 0 falls back to the config's Deadline
}

// Result is the engine's output: the Finding/TaintFlow/CouplingFinding
// streams plus a RunSummary.
type Result struct {
	Findings []rules.Finding
	Flows    []taint.Flow
	Coupling []connascence.Finding
	Models   map[fact.ID]*model.Model
	Summary  RunSummary
}

// RunSummary reports totals, warnings, cache stats, and timings.
type RunSummary struct {
	TotalBySeverity map[rules.Severity]int
	Warnings        int64
	CacheStats      cache.Stats
	PhaseTimings    map[string]time.Duration
}

// Engine holds the long-lived analysis caches: semantic
// models, taint-flow result sets, and coupling findings, each keyed by
// the fact-store fingerprint, policy fingerprint, and analyzer version.
// Construct once with New and share across runs; a CacheTTLSeconds of 0
// disables caching entirely.
type Engine struct {
	cfg *config.Config

	models   *cache.Cache[map[fact.ID]*model.Model]
	flows    *cache.Cache[[]taint.Flow]
	coupling *cache.Cache[[]connascence.Finding]
}

// New builds an Engine around cfg (DefaultConfig when nil).
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{cfg: cfg}
	if ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second; ttl > 0 {
		e.models = cache.New[map[fact.ID]*model.Model](ttl, cacheMaxEntries)
		e.flows = cache.New[[]taint.Flow](ttl, cacheMaxEntries)
		e.coupling = cache.New[[]connascence.Finding](ttl, cacheMaxEntries)
	}
	return e
}

// Run is the package-level convenience entrypoint: one throwaway Engine,
// one pass. Callers that want cache hits across runs construct an Engine
// with New and call its Run method instead.
func Run(ctx context.Context, req Request) (*Result, error) {
	return New(req.Config).Run(ctx, req)
}

// Run executes one full analysis pass. It derives a deadline-bound
// child context when req.Deadline (or, when that is zero, the config's
// Deadline) is set; ctx is the cancellation token, no separate type.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	log := logging.Get(logging.CategoryEngine).With("run_id", uuid.NewString())

	cfg := e.cfg
	if req.Config != nil {
		cfg = req.Config
	}

	deadline := req.Deadline
	if deadline == 0 {
		deadline = cfg.Deadline
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	timings := map[string]time.Duration{}
	mark := func(phase string, start time.Time) { timings[phase] = time.Since(start) }

	if !req.Store.Frozen() {
		req.Store.Freeze()
	}
	storeFP := req.Store.Fingerprint()
	policyFP := req.Policy.Fingerprint()

	t0 := time.Now()
	models, err := e.buildModels(ctx, req.Store, storeFP)
	mark("model", t0)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	var findings []rules.Finding
	var warnings int64
	if len(req.Rules) > 0 {
		t1 := time.Now()
		evaluator, err := rules.NewEvaluator(req.Store, req.Rules, cfg.FailFast)
		if err != nil {
			return nil, err
		}
		evaluator.Parallelism = cfg.Parallelism
		findings, err = evaluator.Evaluate(ctx)
		warnings = evaluator.Warnings()
		mark("rules", t1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, err
		}
	}

	var flows []taint.Flow
	if req.Policy != nil {
		t2 := time.Now()
		flows, err = e.runTaint(ctx, req, cfg, models, storeFP, policyFP)
		mark("taint", t2)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, err
		}
	}

	t3 := time.Now()
	coupling, err := e.runConnascence(ctx, req.Store, cfg, models, storeFP)
	mark("connascence", t3)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}

	summary := RunSummary{
		TotalBySeverity: bySeverity(findings),
		Warnings:        warnings,
		CacheStats:      e.cacheStats(),
		PhaseTimings:    timings,
	}
	log.Infof("run complete: %d findings, %d flows, %d coupling findings", len(findings), len(flows), len(coupling))

	return &Result{
		Findings: findings,
		Flows:    flows,
		Coupling: coupling,
		Models:   models,
		Summary:  summary,
	}, nil
}

func (e *Engine) buildModels(ctx context.Context, s *store.Store, storeFP uint64) (map[fact.ID]*model.Model, error) {
	build := func(context.Context) (map[fact.ID]*model.Model, error) {
		return model.NewBuilder().Build(s)
	}
	if e.models == nil {
		return build(ctx)
	}
	return e.models.GetOrCompute(ctx, cache.NewKey(storeFP, 0, analyzerVersion), build)
}

func (e *Engine) runTaint(ctx context.Context, req Request, cfg *config.Config, models map[fact.ID]*model.Model, storeFP, policyFP uint64) ([]taint.Flow, error) {
	run := func(ctx context.Context) ([]taint.Flow, error) {
		prop := &taint.Propagator{MaxFlowsPerPair: cfg.MaxFlowsPerPair, ReportSanitized: cfg.ReportSanitizedFlows}
		return prop.Run(ctx, req.Store, models, req.Policy)
	}
	if e.flows == nil {
		return run(ctx)
	}
	return e.flows.GetOrCompute(ctx, cache.NewKey(storeFP, policyFP, analyzerVersion), run)
}

func (e *Engine) runConnascence(ctx context.Context, s *store.Store, cfg *config.Config, models map[fact.ID]*model.Model, storeFP uint64) ([]connascence.Finding, error) {
	run := func(ctx context.Context) ([]connascence.Finding, error) {
		return connascence.NewAnalyzer(cfg).Analyze(ctx, s, models)
	}
	if e.coupling == nil {
		return run(ctx)
	}
	return e.coupling.GetOrCompute(ctx, cache.NewKey(storeFP, 0, analyzerVersion), run)
}

func (e *Engine) cacheStats() cache.Stats {
	var s cache.Stats
	if e.models != nil {
		s = s.Add(e.models.Stats())
	}
	if e.flows != nil {
		s = s.Add(e.flows.Stats())
	}
	if e.coupling != nil {
		s = s.Add(e.coupling.Stats())
	}
	return s
}

// CleanupExpired removes expired entries from every cache.
func (e *Engine) CleanupExpired() {
	if e.models != nil {
		e.models.CleanupExpired()
	}
	if e.flows != nil {
		e.flows.CleanupExpired()
	}
	if e.coupling != nil {
		e.coupling.CleanupExpired()
	}
}

// ExitCode maps an analysis error to a process status code: 0 success,
// 1 policy/schema error, 2 cancelled or timed out, 3 internal invariant
// violation.
func ExitCode(err error) int {
	var schemaErr *fact.SchemaError
	var cycleErr *rules.RuleCycleError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvariantViolation):
		return 3
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 2
	case errors.As(err, &schemaErr), errors.As(err, &cycleErr):
		return 1
	default:
		return 1
	}
}

func bySeverity(findings []rules.Finding) map[rules.Severity]int {
	out := map[rules.Severity]int{}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}
