// Package main is a thin CLI front-end over internal/engine: load a JSON
// fact dump, run one analysis pass, print the findings. Front-ends that
// drive extractor subprocesses over internal/protocol are out of scope
// here; this command exists to exercise the engine, not to replace a
// full driver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hodeiscan/internal/config"
	"hodeiscan/internal/engine"
	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/rules"
	"hodeiscan/internal/store"
	"hodeiscan/internal/taint"
)

var (
	irPath     string
	configPath string
	debug      bool
	deadline   time.Duration
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.ExitCode(err))
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hodeiscan",
		Short: "Run a static taint and connascence analysis pass over a fact dump",
	}
	root.PersistentFlags().StringVar(&irPath, "ir", "", "path to a JSON fact dump (required)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&deadline, "deadline", 0, "analysis deadline, 0 for none")
	root.AddCommand(analyzeCmd())
	return root
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Build the semantic model and run rules, taint, and connascence analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			if irPath == "" {
				return fmt.Errorf("--ir is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if debug {
				cfg.Logging.DebugMode = true
			}
			if err := logging.Initialize(logging.Config{
				DebugMode:  cfg.Logging.DebugMode,
				JSONFormat: cfg.Logging.JSONFormat,
				Categories: cfg.Logging.Categories,
			}); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			s, err := loadStore(irPath)
			if err != nil {
				return fmt.Errorf("load facts: %w", err)
			}

			result, err := engine.Run(context.Background(), engine.Request{
				Store:    s,
				Rules:    []rules.CompiledRule{},
				Policy:   &taint.Policy{},
				Config:   cfg,
				Deadline: deadline,
			})
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			return printResult(result)
		},
	}
}

// factRecord is the wire shape of one fact in an IR dump: Attributes
// are decoded from JSON's untyped values into fact.Attr by inspecting
// each value's Go type, since JSON itself has no notion of
// fact.AttrKind. Id-reference attributes are written as an object,
// {"ref": <id>}, to keep them distinct from plain integers.
type factRecord struct {
	Kind       string                 `json:"kind"`
	Location   fact.Location          `json:"location"`
	Attributes map[string]interface{} `json:"attributes"`
}

func loadStore(path string) (*store.Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []factRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	s, err := store.New(fact.DefaultSchema())
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		attrs := make(map[string]fact.Attr, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = toAttr(v)
		}
		f := fact.Fact{Kind: fact.Kind(r.Kind), Location: r.Location, Attributes: attrs}
		if _, err := s.Insert(f); err != nil {
			return nil, fmt.Errorf("fact %d (kind=%s): %w", i, r.Kind, err)
		}
	}
	s.Freeze()
	return s, nil
}

func toAttr(v interface{}) fact.Attr {
	switch t := v.(type) {
	case string:
		return fact.String(t)
	case bool:
		return fact.Bool(t)
	case float64:
		return fact.Int(int64(t))
	case map[string]interface{}:
		if ref, ok := t["ref"].(float64); ok {
			return fact.Ref(fact.ID(ref))
		}
		return fact.String(fmt.Sprintf("%v", t))
	default:
		return fact.String(fmt.Sprintf("%v", t))
	}
}

func printResult(r *engine.Result) error {
	for _, f := range r.Findings {
		fmt.Printf("[%s] %s: %s (fingerprint=%s)\n", f.Severity, f.RuleID, f.Message, f.Fingerprint)
	}
	for _, flow := range r.Flows {
		sanitized := ""
		if flow.Sanitized {
			sanitized = " (sanitized)"
		}
		fmt.Printf("taint: %d -> %d tag=%s confidence=%.2f%s\n", flow.Source, flow.Sink, flow.Tag, flow.Confidence, sanitized)
	}
	for _, c := range r.Coupling {
		fmt.Printf("coupling: %s strength=%s %s\n", c.Kind, c.Strength, c.Rationale)
	}
	fmt.Printf("summary: %d findings, %d flows, %d coupling findings, %d warnings, cache %d/%d hits\n",
		len(r.Findings), len(r.Flows), len(r.Coupling), r.Summary.Warnings,
		r.Summary.CacheStats.Hits, r.Summary.CacheStats.Hits+r.Summary.CacheStats.Misses)
	return nil
}
