// Package explain computes approximate Shapley attributions for the approval
// model via permutation sampling. Each sampled permutation reveals the
// instance's features one at a time on top of the baseline vector and records
// the probability delta of every reveal; a feature's score is the mean of its
// deltas across all sampled permutations.
//
// Sampling uses a seedable source: the same seed, sample count, worker count,
// instance, and baseline always produce bit-identical scores. Audit
// reproducibility depends on this.
package explain

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"fintech-approve/internal/model"
)

const (
	EffectSupportsApproval  = "Support Approval"
	EffectSupportsRejection = "Support Rejection"
)

// Config tunes the accuracy/latency tradeoff. SampleCount 0 selects the
// default max(100, 10·n). Seed 0 draws a fresh seed per attribution, trading
// reproducibility for independence. Workers 0 runs single-threaded.
type Config struct {
	SampleCount int
	Seed        int64
	Workers     int
}

// Attribution holds one instance's per-feature contribution scores, indexed
// in transformed feature order.
type Attribution struct {
	Names  []string
	Scores []float64
}

// Sum returns the total attributed probability mass. It approximates
// p(instance) − p(baseline); the approximation tightens as SampleCount grows.
func (a Attribution) Sum() float64 {
	var s float64
	for _, v := range a.Scores {
		s += v
	}
	return s
}

// Driver is one ranked attribution entry as surfaced to callers.
type Driver struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"contribution_score"`
	Effect  string  `json:"effect"`
}

// TopDrivers ranks features by absolute score descending and returns the
// first k. Equal absolute scores keep original feature order.
func (a Attribution) TopDrivers(k int) []Driver {
	order := make([]int, len(a.Scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return math.Abs(a.Scores[order[x]]) > math.Abs(a.Scores[order[y]])
	})

	if k > len(order) {
		k = len(order)
	}
	drivers := make([]Driver, 0, k)
	for _, idx := range order[:k] {
		effect := EffectSupportsApproval
		if a.Scores[idx] < 0 {
			effect = EffectSupportsRejection
		}
		drivers = append(drivers, Driver{
			Feature: a.Names[idx],
			Score:   a.Scores[idx],
			Effect:  effect,
		})
	}
	return drivers
}

// Attributor computes attributions against a fixed model and baseline. All
// fields are read-only after construction; concurrent Attribute calls are
// safe.
type Attributor struct {
	model       model.Model
	names       []string
	baseline    []float64
	sampleCount int
	workers     int
	seed        int64
}

func New(m model.Model, names []string, baseline []float64, cfg Config) (*Attributor, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("attributor: no features")
	}
	if len(names) != len(baseline) {
		return nil, fmt.Errorf("attributor: %d feature names but baseline has %d slots",
			len(names), len(baseline))
	}
	if m.NumFeatures() != len(baseline) {
		return nil, &model.InferenceError{
			Reason: fmt.Sprintf("model expects %d features, transformer provides %d",
				m.NumFeatures(), len(baseline)),
		}
	}

	samples := cfg.SampleCount
	if samples <= 0 {
		samples = 10 * len(names)
		if samples < 100 {
			samples = 100
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > samples {
		workers = samples
	}

	return &Attributor{
		model:       m,
		names:       names,
		baseline:    append([]float64(nil), baseline...),
		sampleCount: samples,
		workers:     workers,
		seed:        cfg.Seed,
	}, nil
}

// SampleCount returns the resolved number of sampled permutations.
func (a *Attributor) SampleCount() int {
	return a.sampleCount
}

// Attribute computes the instance's attribution. The instance vector must
// have the transformer's layout.
func (a *Attributor) Attribute(ctx context.Context, instance []float64) (Attribution, error) {
	if len(instance) != len(a.baseline) {
		return Attribution{}, &model.InferenceError{
			Reason: fmt.Sprintf("expected %d features, got %d", len(a.baseline), len(instance)),
		}
	}

	baseProb, err := a.model.Probability(a.baseline)
	if err != nil {
		return Attribution{}, fmt.Errorf("score baseline: %w", err)
	}

	seed := a.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Permutations are split into contiguous chunks, one per worker. Each
	// worker derives its source from the base seed and its chunk index, and
	// chunks merge in index order, so repeated runs of the same
	// configuration produce identical scores.
	type chunkResult struct {
		idx  int
		sums []float64
		err  error
	}

	n := len(a.names)
	chunks := a.workers
	per := a.sampleCount / chunks
	extra := a.sampleCount % chunks

	results := make(chan chunkResult, chunks)
	for c := 0; c < chunks; c++ {
		count := per
		if c < extra {
			count++
		}
		go func(idx, count int) {
			sums, err := a.sampleChunk(ctx, instance, baseProb, seed+int64(idx)*0x9e3779b9, count)
			results <- chunkResult{idx: idx, sums: sums, err: err}
		}(c, count)
	}

	perChunk := make([][]float64, chunks)
	for i := 0; i < chunks; i++ {
		res := <-results
		if res.err != nil {
			err = res.err
			continue
		}
		perChunk[res.idx] = res.sums
	}
	if err != nil {
		return Attribution{}, err
	}

	// Merge in chunk order so float summation order is fixed.
	scores := make([]float64, n)
	for _, sums := range perChunk {
		for i, v := range sums {
			scores[i] += v
		}
	}
	for i := range scores {
		scores[i] /= float64(a.sampleCount)
	}

	return Attribution{Names: a.names, Scores: scores}, nil
}

// sampleChunk runs count permutations and returns per-feature summed marginal
// contributions. The working vector starts at the baseline and reveals one
// instance value per step, so each permutation costs n model calls.
func (a *Attributor) sampleChunk(ctx context.Context, instance []float64, baseProb float64, seed int64, count int) ([]float64, error) {
	n := len(a.baseline)
	r := rand.New(rand.NewSource(seed))
	sums := make([]float64, n)
	working := make([]float64, n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	for s := 0; s < count; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Fisher-Yates over the reveal order.
		for i := n - 1; i > 0; i-- {
			j := r.Intn(i + 1)
			perm[i], perm[j] = perm[j], perm[i]
		}

		copy(working, a.baseline)
		prev := baseProb
		for _, fi := range perm {
			working[fi] = instance[fi]
			cur, err := a.model.Probability(working)
			if err != nil {
				return nil, fmt.Errorf("score reveal step: %w", err)
			}
			sums[fi] += cur - prev
			prev = cur
		}
	}
	return sums, nil
}
