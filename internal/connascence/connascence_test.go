package connascence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodeiscan/internal/config"
	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

func TestTrigramSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, trigramSimilarity("same", "same"))
	assert.Greater(t, trigramSimilarity("computeTotal", "computeTotals"), 0.8)
	assert.Less(t, trigramSimilarity("computeTotal", "zzzzzzzzzzzz"), 0.1)
}

func TestNormalizedEditDistance(t *testing.T) {
	assert.Equal(t, 0.0, normalizedEditDistance([]string{"a", "b"}, []string{"a", "b"}))
	assert.Equal(t, 0.0, normalizedEditDistance(nil, nil))
	assert.InDelta(t, 1.0, normalizedEditDistance([]string{"a"}, []string{"b"}), 1e-9)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(fact.DefaultSchema())
	require.NoError(t, err)
	return s
}

func TestDetectName_FlagsSimilarIdentifiers(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("computeTotal"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("computeTotals"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectName(context.Background(), s, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.ConnascenceName, findings[0].Kind)
}

func TestDetectType_FlagsSharedConcreteType(t *testing.T) {
	s := newTestStore(t)
	fn1, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("A"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	fn2, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("B"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{Kind: fact.KindVariable, Attributes: map[string]fact.Attr{
		"name": fact.String("x"), "owner_function": fact.Ref(fn1), "block": fact.Int(0),
		"def_or_use": fact.String("def"), "type": fact.String("CustomerID"),
	}})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{Kind: fact.KindVariable, Attributes: map[string]fact.Attr{
		"name": fact.String("y"), "owner_function": fact.Ref(fn2), "block": fact.Int(0),
		"def_or_use": fact.String("def"), "type": fact.String("CustomerID"),
	}})
	require.NoError(t, err)
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectType(context.Background(), s, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.ElementsMatch(t, []fact.ID{fn1, fn2}, findings[0].Participants)
}

func TestDetectMeaning_FlagsSharedMagicLiteral(t *testing.T) {
	s := newTestStore(t)
	fn, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("A"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{Kind: fact.KindAnnotation, Attributes: map[string]fact.Attr{
		"owner": fact.Ref(fn), "key": fact.String("magic_literal"), "value": fact.String("42"), "scope": fact.Int(1),
	}})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{Kind: fact.KindAnnotation, Attributes: map[string]fact.Attr{
		"owner": fact.Ref(fn), "key": fact.String("magic_literal"), "value": fact.String("42"), "scope": fact.Int(2),
	}})
	require.NoError(t, err)
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectMeaning(context.Background(), s, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.ConnascenceMeaning, findings[0].Kind)
}

func TestAnalyze_EmptyModelsReturnsNil(t *testing.T) {
	s := newTestStore(t)
	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.Analyze(context.Background(), s, map[fact.ID]*model.Model{})
	require.NoError(t, err)
	assert.Nil(t, findings)
}

func TestAnalyze_PopulatesSharedCouplingGraph(t *testing.T) {
	s := newTestStore(t)
	fn1, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("computeTotal"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	fn2, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("computeTotals"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	s.Freeze()

	models, err := model.NewBuilder().Build(s)
	require.NoError(t, err)
	require.Len(t, models, 2)

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.Analyze(context.Background(), s, models)
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	graph := models[fn1].Coupling
	assert.Same(t, graph, models[fn2].Coupling)
	assert.NotEmpty(t, graph.Edges)
}

// Two call sites in different files of the same package sharing a
// five-argument positional shape: one Position finding, Medium strength.
func TestDetectPosition_SharedArgumentShape(t *testing.T) {
	s := newTestStore(t)
	fn1, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("A"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	fn2, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("B"), "package": fact.String("pkg")}})
	require.NoError(t, err)

	call1, err := s.Insert(fact.Fact{
		Kind:     fact.KindCall,
		Location: fact.Location{File: "pkg/a.go", Line: 10},
		Attributes: map[string]fact.Attr{
			"callee": fact.String("render"), "owner_function": fact.Ref(fn1),
			"block": fact.Int(0), "arg_count": fact.Int(5),
			"arg_types": fact.String("string,int,int,bool,string"),
		},
	})
	require.NoError(t, err)
	call2, err := s.Insert(fact.Fact{
		Kind:     fact.KindCall,
		Location: fact.Location{File: "pkg/b.go", Line: 20},
		Attributes: map[string]fact.Attr{
			"callee": fact.String("paint"), "owner_function": fact.Ref(fn2),
			"block": fact.Int(0), "arg_count": fact.Int(5),
			"arg_types": fact.String("string,int,int,bool,string"),
		},
	})
	require.NoError(t, err)
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectPosition(context.Background(), s, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.ConnascencePosition, findings[0].Kind)
	assert.ElementsMatch(t, []fact.ID{call1, call2}, findings[0].Participants)
	assert.Equal(t, model.StrengthMedium, findings[0].Strength)
}

func TestDetectPosition_BelowArityThresholdIgnored(t *testing.T) {
	s := newTestStore(t)
	fn, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("A"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Insert(fact.Fact{Kind: fact.KindCall, Attributes: map[string]fact.Attr{
			"callee": fact.String("log"), "owner_function": fact.Ref(fn),
			"block": fact.Int(0), "arg_count": fact.Int(2), "arg_types": fact.String("string,int"),
		}})
		require.NoError(t, err)
	}
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectPosition(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectAlgorithm_SimilarCFGShapes(t *testing.T) {
	s := newTestStore(t)
	var fns []fact.ID
	for _, name := range []string{"walkLeft", "walkRight"} {
		fn, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String(name), "package": fact.String("pkg")}})
		require.NoError(t, err)
		fns = append(fns, fn)
		_, err = s.Insert(fact.Fact{Kind: fact.KindControlFlowEdge, Attributes: map[string]fact.Attr{
			"from": fact.Int(0), "to": fact.Int(1),
			"owner_function": fact.Ref(fn), "edge_kind": fact.String(string(model.EdgeFallThrough)),
		}})
		require.NoError(t, err)
		_, err = s.Insert(fact.Fact{Kind: fact.KindControlFlowEdge, Attributes: map[string]fact.Attr{
			"from": fact.Int(1), "to": fact.Int(2),
			"owner_function": fact.Ref(fn), "edge_kind": fact.String(string(model.EdgeFallThrough)),
		}})
		require.NoError(t, err)
	}
	s.Freeze()

	models, err := model.NewBuilder().Build(s)
	require.NoError(t, err)

	a := NewAnalyzer(config.DefaultConfig())
	findings, err := a.detectAlgorithm(context.Background(), s, models)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.ConnascenceAlgorithm, findings[0].Kind)
	assert.ElementsMatch(t, fns, findings[0].Participants)
}

func TestStrength_HighSpansPackages(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Location: fact.Location{File: "web/a.go"}, Attributes: map[string]fact.Attr{"name": fact.String("A")}})
	require.NoError(t, err)
	id2, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Location: fact.Location{File: "db/b.go"}, Attributes: map[string]fact.Attr{"name": fact.String("B")}})
	require.NoError(t, err)
	id3, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Location: fact.Location{File: "web/a.go"}, Attributes: map[string]fact.Attr{"name": fact.String("C")}})
	require.NoError(t, err)
	s.Freeze()

	a := NewAnalyzer(config.DefaultConfig())
	assert.Equal(t, model.StrengthHigh, a.strength(s, []fact.ID{id1, id2}))
	assert.Equal(t, model.StrengthLow, a.strength(s, []fact.ID{id1, id3}))
}
