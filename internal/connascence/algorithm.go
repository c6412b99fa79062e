package connascence

import (
	"context"
	"fmt"
	"sort"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// detectAlgorithm flags function pairs whose CFGs are structurally
// similar: a normalized block-kind sequence (not the full block graph)
// compared with classic O(n·m) edit-distance DP, a simplification of
// true tree-edit distance (Zhang-Shasha).
func (a *Analyzer) detectAlgorithm(_ context.Context, s *store.Store, models map[fact.ID]*model.Model) ([]Finding, error) {
	var ids []fact.ID
	for id := range models {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	signatures := make(map[fact.ID][]string, len(ids))
	for _, id := range ids {
		signatures[id] = blockKindSequence(models[id].CFG)
	}

	threshold := a.cfg.CouplingThresholds.AlgorithmSimilarity
	var findings []Finding
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			x, y := ids[i], ids[j]
			dist := normalizedEditDistance(signatures[x], signatures[y])
			if dist > threshold {
				continue
			}
			participants := []fact.ID{x, y}
			findings = append(findings, Finding{
				Kind:         model.ConnascenceAlgorithm,
				Participants: participants,
				Strength:     a.strength(s, participants),
				Rationale:    fmt.Sprintf("normalized CFG edit distance %.2f <= threshold %.2f", dist, threshold),
			})
		}
	}
	return findings, nil
}

// blockKindSequence normalizes a CFG to a sequence over {entry, exit,
// linear, branch} ordered by ascending block handle, a stable and
// cheap-to-compare fingerprint of control-flow shape.
func blockKindSequence(cfg *model.CFG) []string {
	var handles []model.BlockHandle
	for h := range cfg.Blocks {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	seq := make([]string, 0, len(handles))
	for _, h := range handles {
		blk := cfg.Blocks[h]
		switch {
		case blk.IsEntry:
			seq = append(seq, "entry")
		case blk.IsExit:
			seq = append(seq, "exit")
		case len(cfg.Out[h]) > 1:
			seq = append(seq, "branch")
		default:
			seq = append(seq, "linear")
		}
	}
	return seq
}

// normalizedEditDistance is classic Levenshtein distance over the two
// sequences, normalized to [0, 1] by the longer sequence's length.
func normalizedEditDistance(a, b []string) float64 {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return 0
	}
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
		dp[i][0] = i
	}
	for j := 0; j <= m; j++ {
		dp[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1]
				continue
			}
			min := dp[i-1][j]
			if dp[i][j-1] < min {
				min = dp[i][j-1]
			}
			if dp[i-1][j-1] < min {
				min = dp[i-1][j-1]
			}
			dp[i][j] = min + 1
		}
	}
	longest := n
	if m > longest {
		longest = m
	}
	if longest == 0 {
		return 0
	}
	return float64(dp[n][m]) / float64(longest)
}
