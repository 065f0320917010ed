package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesislabs/noesis/pkg/atomspace"
)

// seedImplicationStore builds a store holding "water is wet": a water
// concept, a wet concept, and an inheritance link between them.
func seedImplicationStore(t *testing.T) (*atomspace.Store, atomspace.Atom) {
	t.Helper()
	store := atomspace.NewStore()

	waterID := store.AddAtom(atomspace.Atom{
		Type:  "concept",
		Name:  "water",
		Truth: &atomspace.TruthValue{Strength: 0.9, Confidence: 0.9},
	})
	wetID := store.AddAtom(atomspace.Atom{
		Type:  "concept",
		Name:  "wet",
		Truth: &atomspace.TruthValue{Strength: 0.8, Confidence: 0.8},
	})
	store.AddAtom(atomspace.Atom{
		Type:     "inheritance",
		Outgoing: []string{waterID, wetID},
		Truth:    &atomspace.TruthValue{Strength: 1, Confidence: 0.9},
	})

	premise := atomspace.Atom{
		Type:  "concept",
		Name:  "water",
		Truth: &atomspace.TruthValue{Strength: 1, Confidence: 1},
	}
	return store, premise
}

func TestDeductiveDerivesConsequent(t *testing.T) {
	store, premise := seedImplicationStore(t)
	engine := NewDeductiveEngine(store)

	res := engine.Reason(context.Background(), Query{
		Type:  CapabilityDeductive,
		Atoms: []atomspace.Atom{premise},
	})

	require.Len(t, res.Conclusion, 1)
	assert.Equal(t, "wet", res.Conclusion[0].Name)
	require.NotNil(t, res.Conclusion[0].Truth)
	// strength = premise 1.0 * link 1.0, confidence = min(1.0, 0.9)
	assert.InDelta(t, 1.0, res.Conclusion[0].Truth.Strength, 1e-9)
	assert.InDelta(t, 0.9, res.Conclusion[0].Truth.Confidence, 1e-9)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestDeductiveNoMatchIsTotal(t *testing.T) {
	engine := NewDeductiveEngine(atomspace.NewStore())

	res := engine.Reason(context.Background(), Query{
		Type:  CapabilityDeductive,
		Atoms: []atomspace.Atom{{Type: "concept", Name: "nothing"}},
	})

	assert.Empty(t, res.Conclusion)
	assert.Zero(t, res.Confidence)
	assert.NotEmpty(t, res.Explanation)
}

func TestInductiveGeneralizes(t *testing.T) {
	store := atomspace.NewStore()
	for _, s := range []float64{0.2, 0.4, 0.6} {
		store.AddAtom(atomspace.Atom{
			Type:  "observation",
			Truth: &atomspace.TruthValue{Strength: s, Confidence: 1},
		})
	}
	engine := NewInductiveEngine(store)

	res := engine.Reason(context.Background(), Query{
		Type:  CapabilityInductive,
		Atoms: []atomspace.Atom{{Type: "observation"}},
	})

	require.Len(t, res.Conclusion, 1)
	gen := res.Conclusion[0]
	assert.Equal(t, "generalization", gen.Type)
	assert.Equal(t, "observation", gen.Name)
	require.NotNil(t, gen.Truth)
	assert.InDelta(t, 0.4, gen.Truth.Strength, 1e-9, "sample mean of strengths")
	assert.InDelta(t, 0.75, gen.Truth.Confidence, 1e-9, "n/(n+1) with n=3")
}

func TestAbductiveHypothesizesAntecedent(t *testing.T) {
	store, _ := seedImplicationStore(t)
	engine := NewAbductiveEngine(store)

	observed := atomspace.Atom{
		Type:  "concept",
		Name:  "wet",
		Truth: &atomspace.TruthValue{Strength: 1, Confidence: 1},
	}
	res := engine.Reason(context.Background(), Query{
		Type:  CapabilityAbductive,
		Atoms: []atomspace.Atom{observed},
	})

	require.Len(t, res.Conclusion, 1)
	assert.Equal(t, "water", res.Conclusion[0].Name)
	require.NotNil(t, res.Conclusion[0].Truth)
	assert.InDelta(t, 0.8*0.9, res.Conclusion[0].Truth.Confidence, 1e-9,
		"abduction discounts the deductive confidence")
}

func TestPatternMatchingConfidenceIsMatchDensity(t *testing.T) {
	store := atomspace.NewStore()
	store.AddAtom(atomspace.Atom{Type: "concept", Name: "water"})
	engine := NewPatternMatchingEngine(store)

	res := engine.Reason(context.Background(), Query{
		Type: CapabilityPatternMatching,
		Atoms: []atomspace.Atom{
			{Type: "concept", Name: "water"},
			{Type: "concept", Name: "missing"},
		},
	})

	require.Len(t, res.Conclusion, 1)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9, "one of two patterns matched")
}

func TestPatternMatchingEmptyQuery(t *testing.T) {
	engine := NewPatternMatchingEngine(atomspace.NewStore())
	res := engine.Reason(context.Background(), Query{Type: CapabilityPatternMatching})
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Conclusion)
}

func TestDomainAnalysisFiltersByContext(t *testing.T) {
	store := atomspace.NewStore()
	store.AddAtom(atomspace.Atom{Type: "concept", Name: "h2o", Metadata: map[string]string{"domain": "chemistry"}})
	store.AddAtom(atomspace.Atom{Type: "concept", Name: "gdp", Metadata: map[string]string{"domain": "economics"}})
	engine := NewDomainAnalysisEngine(store)

	res := engine.Reason(context.Background(), Query{
		Type:    CapabilityDomainAnalysis,
		Context: "chemistry",
	})

	require.Len(t, res.Conclusion, 1)
	assert.Equal(t, "h2o", res.Conclusion[0].Name)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9, "coverage of the selected region")
}

func TestDomainAnalysisParameterFilter(t *testing.T) {
	store := atomspace.NewStore()
	store.AddAtom(atomspace.Atom{Type: "concept", Name: "a",
		Metadata: map[string]string{"domain": "physics", "verified": "true"}})
	store.AddAtom(atomspace.Atom{Type: "concept", Name: "b",
		Metadata: map[string]string{"domain": "physics", "verified": "false"}})
	engine := NewDomainAnalysisEngine(store)

	res := engine.Reason(context.Background(), Query{
		Type:       CapabilityDomainAnalysis,
		Context:    "physics",
		Parameters: map[string]string{"verified": "true"},
	})

	require.Len(t, res.Conclusion, 1)
	assert.Equal(t, "a", res.Conclusion[0].Name)
}

func TestCapabilityValidate(t *testing.T) {
	for _, c := range []Capability{
		CapabilityDeductive, CapabilityInductive, CapabilityAbductive,
		CapabilityPatternMatching, CapabilityDomainAnalysis, CapabilityHybrid,
	} {
		assert.NoError(t, c.Validate())
	}
	assert.Error(t, Capability("telepathy").Validate())
}
