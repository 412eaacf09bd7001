package explain

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interactionModel is a scorer with a feature interaction, so per-feature
// attribution genuinely depends on reveal order: 0.3 + 0.2·x0·x1 + 0.1·x2.
type interactionModel struct{}

func (interactionModel) NumFeatures() int { return 3 }

func (interactionModel) Probability(v []float64) (float64, error) {
	return 0.3 + 0.2*v[0]*v[1] + 0.1*v[2], nil
}

// linearModel has no interactions: every reveal order yields the same
// marginal, making attributions exact at any sample count.
type linearModel struct {
	weights []float64
	base    float64
}

func (m linearModel) NumFeatures() int { return len(m.weights) }

func (m linearModel) Probability(v []float64) (float64, error) {
	p := m.base
	for i, w := range m.weights {
		p += w * v[i]
	}
	return p, nil
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestAttributeReproducible(t *testing.T) {
	cfg := Config{SampleCount: 300, Seed: 42, Workers: 3}
	baseline := []float64{0, 0, 0}
	instance := []float64{1, 1, 1}

	a1, err := New(interactionModel{}, names(3), baseline, cfg)
	require.NoError(t, err)
	first, err := a1.Attribute(context.Background(), instance)
	require.NoError(t, err)

	second, err := a1.Attribute(context.Background(), instance)
	require.NoError(t, err)
	assert.Equal(t, first.Scores, second.Scores, "repeated runs must be bit-identical")

	// A fresh attributor with the same configuration agrees too.
	a2, err := New(interactionModel{}, names(3), baseline, cfg)
	require.NoError(t, err)
	third, err := a2.Attribute(context.Background(), instance)
	require.NoError(t, err)
	assert.Equal(t, first.Scores, third.Scores)
}

func TestAttributeEfficiency(t *testing.T) {
	// Every sampled permutation reveals all features, so the per-permutation
	// deltas telescope: the attributed total matches the probability gap up
	// to float rounding at any sample count.
	baseline := []float64{0, 0, 0}
	instance := []float64{1, 1, 1}
	m := interactionModel{}

	for _, samples := range []int{20, 500} {
		a, err := New(m, names(3), baseline, Config{SampleCount: samples, Seed: 7})
		require.NoError(t, err)
		attr, err := a.Attribute(context.Background(), instance)
		require.NoError(t, err)

		pInst, _ := m.Probability(instance)
		pBase, _ := m.Probability(baseline)
		assert.InDelta(t, pInst-pBase, attr.Sum(), 1e-9)
	}
}

func TestAttributeErrorShrinksWithSamples(t *testing.T) {
	// Exact Shapley values for the interaction model at instance (1,1,1)
	// against a zero baseline: the 0.2 interaction term splits evenly.
	exact := []float64{0.1, 0.1, 0.1}
	baseline := []float64{0, 0, 0}
	instance := []float64{1, 1, 1}

	sampleErr := func(samples int) float64 {
		var total float64
		for seed := int64(1); seed <= 3; seed++ {
			a, err := New(interactionModel{}, names(3), baseline, Config{SampleCount: samples, Seed: seed})
			require.NoError(t, err)
			attr, err := a.Attribute(context.Background(), instance)
			require.NoError(t, err)
			for i, score := range attr.Scores {
				total += math.Abs(score - exact[i])
			}
		}
		return total / 3
	}

	small := sampleErr(20)
	large := sampleErr(2000)
	assert.LessOrEqual(t, large, small+1e-9, "error should not grow with more samples")
	assert.Less(t, large, 0.02)
}

func TestAttributeLinearModelExact(t *testing.T) {
	m := linearModel{weights: []float64{0.1, -0.2, 0.05}, base: 0.5}
	baseline := []float64{0, 0, 0}
	instance := []float64{1, 2, -1}

	a, err := New(m, names(3), baseline, Config{SampleCount: 50, Seed: 1})
	require.NoError(t, err)
	attr, err := a.Attribute(context.Background(), instance)
	require.NoError(t, err)

	assert.InDelta(t, 0.1, attr.Scores[0], 1e-12)
	assert.InDelta(t, -0.4, attr.Scores[1], 1e-12)
	assert.InDelta(t, -0.05, attr.Scores[2], 1e-12)
}

func TestTopDrivers(t *testing.T) {
	attr := Attribution{
		Names:  []string{"a", "b", "c", "d"},
		Scores: []float64{0.05, -0.3, 0.2, -0.01},
	}

	drivers := attr.TopDrivers(3)
	require.Len(t, drivers, 3)
	assert.Equal(t, "b", drivers[0].Feature)
	assert.Equal(t, EffectSupportsRejection, drivers[0].Effect)
	assert.Equal(t, "c", drivers[1].Feature)
	assert.Equal(t, EffectSupportsApproval, drivers[1].Effect)
	assert.Equal(t, "a", drivers[2].Feature)

	// k beyond the feature count clamps.
	assert.Len(t, attr.TopDrivers(10), 4)
}

func TestTopDriversTieBreakStable(t *testing.T) {
	// A linear model with equal weights gives exactly equal scores; ranking
	// must then keep original feature order.
	m := linearModel{weights: []float64{0.1, 0.1, 0.1}, base: 0.2}
	baseline := []float64{0, 0, 0}
	instance := []float64{1, 1, 1}

	a, err := New(m, names(3), baseline, Config{SampleCount: 100, Seed: 9})
	require.NoError(t, err)
	attr, err := a.Attribute(context.Background(), instance)
	require.NoError(t, err)

	drivers := attr.TopDrivers(3)
	assert.Equal(t, []string{"a", "b", "c"},
		[]string{drivers[0].Feature, drivers[1].Feature, drivers[2].Feature})
}

func TestDefaultSampleCount(t *testing.T) {
	a, err := New(interactionModel{}, names(3), []float64{0, 0, 0}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 100, a.SampleCount(), "floor applies for small feature counts")

	m := linearModel{weights: make([]float64, 20)}
	a, err = New(m, names(20), make([]float64, 20), Config{})
	require.NoError(t, err)
	assert.Equal(t, 200, a.SampleCount())
}

func TestAttributeDimensionMismatch(t *testing.T) {
	a, err := New(interactionModel{}, names(3), []float64{0, 0, 0}, Config{SampleCount: 10, Seed: 1})
	require.NoError(t, err)
	_, err = a.Attribute(context.Background(), []float64{1})
	assert.Error(t, err)
}

func TestAttributeCancelled(t *testing.T) {
	a, err := New(interactionModel{}, names(3), []float64{0, 0, 0}, Config{SampleCount: 1000, Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Attribute(ctx, []float64{1, 1, 1})
	assert.ErrorIs(t, err, context.Canceled)
}
