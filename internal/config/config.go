// Package config holds the engine's configuration object, loaded from
// YAML with sane defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"hodeiscan/internal/fact"
)

// Config is the engine's top-level configuration object.
type Config struct {
	// Parallelism is the rule-evaluator and connascence-detector worker
	// pool size. Default: runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`

	// CacheTTLSeconds is the default TTL for cache entries; 0 disables
	// caching entirely.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// FailFast aborts the run on the first rule error when true.
	FailFast bool `yaml:"fail_fast"`

	// MaxFlowsPerPair caps the number of taint-flow paths reported per
	// (source, sink, tag) triple.
	MaxFlowsPerPair int `yaml:"max_flows_per_pair"`

	// ReportSanitizedFlows opts into emitting flows whose path crosses a
	// sanitizer, with sanitized=true and reduced confidence. Default
	// false: suppression unless a caller explicitly opts in.
	ReportSanitizedFlows bool `yaml:"report_sanitized_flows"`

	// CouplingThresholds tunes the connascence analyzer.
	CouplingThresholds CouplingThresholds `yaml:"coupling_thresholds"`

	// Logging configures the categorized logger (internal/logging).
	Logging LoggingConfig `yaml:"logging"`

	// Deadline, if non-zero, bounds a single engine.Run call. Zero means
	// no deadline beyond the caller's context.
	Deadline time.Duration `yaml:"deadline"`

	// PackageOf resolves the language-neutral "package" a fact belongs
	// to, used by the connascence analyzer to classify coupling strength.
	// The engine never guesses package boundaries on its own.
	// Not serializable; callers embedding the engine as a library set it
	// directly after loading the rest of Config from YAML.
	PackageOf func(fact.Fact) string `yaml:"-"`
}

// CouplingThresholds tunes the five connascence detectors.
type CouplingThresholds struct {
	// PositionArity is the minimum positional-argument count two call
	// sites must share to be flagged for Position connascence. Default 4.
	PositionArity int `yaml:"position_arity"`

	// AlgorithmSimilarity is the maximum normalized tree-edit distance
	// (0.0 identical .. 1.0 unrelated) for two CFGs to be flagged for
	// Algorithm connascence. Default 0.25.
	AlgorithmSimilarity float64 `yaml:"algorithm_similarity"`

	// NameSimilarity is the minimum string-similarity score (0.0..1.0)
	// for two identifiers to be flagged for Name connascence. Default 0.8.
	NameSimilarity float64 `yaml:"name_similarity"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns production defaults. PackageOf defaults to a
// directory-of-file heuristic; callers with a richer notion of "package"
// (e.g. a language's actual module/package graph) should replace it.
func DefaultConfig() *Config {
	return &Config{
		Parallelism:          runtime.NumCPU(),
		CacheTTLSeconds:      3600,
		FailFast:             false,
		MaxFlowsPerPair:      1,
		ReportSanitizedFlows: false,
		CouplingThresholds: CouplingThresholds{
			PositionArity:       4,
			AlgorithmSimilarity: 0.25,
			NameSimilarity:      0.8,
		},
		Logging: LoggingConfig{
			DebugMode: false,
		},
		PackageOf: directoryPackageOf,
	}
}

func directoryPackageOf(f fact.Fact) string {
	file := f.Location.File
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			return file[:i]
		}
	}
	return file
}

// Load reads a YAML configuration file, merging it over DefaultConfig.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.PackageOf == nil {
		c.PackageOf = directoryPackageOf
	}
	return c, nil
}
