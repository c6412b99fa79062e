// Package connascence implements the five static-coupling detectors
// (name, type, position, algorithm, meaning), run concurrently over a
// built semantic model and merged into the model's shared
// CouplingGraph.
package connascence

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"hodeiscan/internal/config"
	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// Finding is one detected coupling between program elements.
type Finding struct {
	Kind         model.ConnascenceKind
	Participants []fact.ID
	Strength     model.Strength
	Rationale    string
}

// Analyzer runs all five detectors.
type Analyzer struct {
	cfg *config.Config
}

// NewAnalyzer returns an Analyzer bound to cfg's thresholds and required
// PackageOf hook.
func NewAnalyzer(cfg *config.Config) *Analyzer { return &Analyzer{cfg: cfg} }

// Analyze runs the five detectors concurrently (same errgroup pattern as
// internal/rules), merges their findings, and records each as an edge in
// every participating function's shared CouplingGraph.
func (a *Analyzer) Analyze(ctx context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	log := logging.Get(logging.CategoryConnascence)
	if len(models) == 0 {
		return nil, nil
	}
	var graph *model.CouplingGraph
	for _, m := range models {
		graph = m.Coupling
		break
	}

	detectors := []func(context.Context, *store.Store, map[fact.ID]*model.Model) ([]Finding, error){
		a.detectName,
		a.detectType,
		a.detectPosition,
		a.detectAlgorithm,
		a.detectMeaning,
	}

	results := make([][]Finding, len(detectors))
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Parallelism > 0 {
		g.SetLimit(a.cfg.Parallelism)
	}
	for i, d := range detectors {
		i, d := i, d
		g.Go(func() error {
			f, err := d(gctx, s, models)
			if err != nil {
				return err
			}
			results[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Finding
	for _, r := range results {
		all = append(all, r...)
	}
	for _, f := range all {
		graph.AddEdge(model.CouplingEdge{
			Kind:         f.Kind,
			Participants: f.Participants,
			Strength:     f.Strength,
			Rationale:    f.Rationale,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Kind != all[j].Kind {
			return all[i].Kind < all[j].Kind
		}
		return all[i].Rationale < all[j].Rationale
	})
	log.Debugf("connascence analysis: %d findings", len(all))
	return all, nil
}

// strength classifies participants by the configured PackageOf hook:
// Low within one file, Medium across files in one package, High across
// package boundaries.
func (a *Analyzer) strength(s *store.Store, participants []fact.ID) model.Strength {
	files := map[string]bool{}
	packages := map[string]bool{}
	for _, id := range participants {
		f, ok := s.Get(id)
		if !ok {
			continue
		}
		files[f.Location.File] = true
		packages[a.cfg.PackageOf(f)] = true
	}
	switch {
	case len(packages) >= 2:
		return model.StrengthHigh
	case len(files) >= 2:
		return model.StrengthMedium
	default:
		return model.StrengthLow
	}
}
