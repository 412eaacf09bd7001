package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintech-approve/internal/audit"
	"fintech-approve/internal/explain"
	"fintech-approve/internal/feature"
	"fintech-approve/internal/model"
	"fintech-approve/internal/policy"
)

// constModel always returns the same probability, which pins the policy
// outcome regardless of the instance.
type constModel struct {
	p float64
	n int
}

func (m constModel) NumFeatures() int { return m.n }

func (m constModel) Probability([]float64) (float64, error) { return m.p, nil }

type failingStore struct {
	calls int
}

func (f *failingStore) Append(audit.Record) (string, error) {
	f.calls++
	return "", &audit.StorageError{Op: "append", Err: errors.New("disk full")}
}

func (f *failingStore) History(string) ([]audit.Record, error) { return []audit.Record{}, nil }

func (f *failingStore) Aggregate(int) (audit.Stats, error) { return audit.Stats{}, nil }

// flakyStore fails the first append then delegates to a real store.
type flakyStore struct {
	*audit.Store
	failed bool
}

func (f *flakyStore) Append(rec audit.Record) (string, error) {
	if !f.failed {
		f.failed = true
		return "", &audit.StorageError{Op: "append", Err: errors.New("transient")}
	}
	return f.Store.Append(rec)
}

func strongApplication() feature.Application {
	return feature.Application{
		NoOfDependents:         0,
		Education:              "Graduate",
		SelfEmployed:           "No",
		IncomeAnnum:            1_200_000,
		LoanAmount:             500_000,
		LoanTerm:               10,
		CibilScore:             820,
		ResidentialAssetsValue: 1_000_000,
		CommercialAssetsValue:  500_000,
		LuxuryAssetsValue:      300_000,
		BankAssetValue:         200_000,
	}
}

func newTestEngine(t *testing.T, m model.Model, store AuditStore, cfg Config) *Engine {
	t.Helper()
	tr, err := feature.NewTransformer(feature.DefaultSchema())
	require.NoError(t, err)
	attr, err := explain.New(m, tr.FeatureNames(), tr.Baseline(), explain.Config{
		SampleCount: 200,
		Seed:        42,
	})
	require.NoError(t, err)
	return New(tr, m, attr, policy.New(0.50), store, cfg, nil)
}

func TestSubmitApprovedLowRisk(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{})
	resp, err := eng.Submit(context.Background(), strongApplication(), "alice")
	require.NoError(t, err)

	assert.Equal(t, policy.VerdictApproved, resp.Decision.Verdict)
	assert.Equal(t, policy.RiskLow, resp.Decision.RiskBand)
	assert.InDelta(t, 0.91, resp.Decision.Confidence, 1e-12)
	assert.NotEmpty(t, resp.AuditID)
	assert.Len(t, resp.Decision.Drivers, 5)
	assert.NotEmpty(t, resp.Decision.Recommendation)
	assert.InDelta(t, 50_000, resp.Decision.Ratios.AnnualEMI, 1e-9)

	records, err := eng.History("alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.AuditID, records[0].ID)
	assert.Equal(t, strongApplication(), records[0].Input)
}

func TestSubmitRejectedHighRisk(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, constModel{p: 0.22, n: 13}, store, Config{})
	resp, err := eng.Submit(context.Background(), strongApplication(), "")
	require.NoError(t, err)

	assert.Equal(t, policy.VerdictRejected, resp.Decision.Verdict)
	assert.Equal(t, policy.RiskHigh, resp.Decision.RiskBand)
	assert.InDelta(t, 0.78, resp.Decision.Confidence, 1e-12)
	assert.NotEmpty(t, resp.Decision.Recommendation)
}

func TestSubmitRejectionRecommendationTargetsDriver(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, model.DefaultLogistic(), store, Config{})

	// A profile sunk primarily by a poor credit score: the top driver must
	// be the credit score and the advice must target it.
	app := feature.Application{
		NoOfDependents: 3,
		Education:      "Not Graduate",
		SelfEmployed:   "Yes",
		IncomeAnnum:    2_000_000,
		LoanAmount:     20_000_000,
		LoanTerm:       20,
		CibilScore:     300,
	}
	resp, err := eng.Submit(context.Background(), app, "")
	require.NoError(t, err)

	assert.Equal(t, policy.VerdictRejected, resp.Decision.Verdict)
	assert.Equal(t, policy.RiskHigh, resp.Decision.RiskBand)
	require.NotEmpty(t, resp.Decision.Drivers)
	assert.Equal(t, "cibil_score", resp.Decision.Drivers[0].Feature)
	assert.Equal(t, explain.EffectSupportsRejection, resp.Decision.Drivers[0].Effect)
	assert.Contains(t, resp.Decision.Recommendation, "CIBIL")
}

func TestSubmitSchemaErrorSkipsAudit(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, constModel{p: 0.9, n: 13}, store, Config{})

	app := strongApplication()
	app.Education = ""
	_, err = eng.Submit(context.Background(), app, "alice")

	var serr *feature.SchemaError
	require.ErrorAs(t, err, &serr)

	records, err := eng.History("alice")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubmitStorageFailureStillReturnsDecision(t *testing.T) {
	store := &failingStore{}
	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{})

	resp, err := eng.Submit(context.Background(), strongApplication(), "alice")
	require.NoError(t, err)
	assert.Equal(t, policy.VerdictApproved, resp.Decision.Verdict)
	assert.Empty(t, resp.AuditID)
	assert.Equal(t, 2, store.calls, "append should be retried exactly once")
}

func TestSubmitStorageFailureFatalWhenAuditRequired(t *testing.T) {
	store := &failingStore{}
	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{AuditRequired: true})

	_, err := eng.Submit(context.Background(), strongApplication(), "alice")
	var serr *audit.StorageError
	require.ErrorAs(t, err, &serr)
}

func TestSubmitStorageRetrySucceeds(t *testing.T) {
	real, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer real.Close()

	store := &flakyStore{Store: real}
	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{AuditRequired: true})

	resp, err := eng.Submit(context.Background(), strongApplication(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AuditID)
}

func TestSubmitTimeoutLeavesNoAuditRecord(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{RequestTimeout: time.Nanosecond})
	_, err = eng.Submit(context.Background(), strongApplication(), "alice")
	require.Error(t, err)

	records, err := eng.History("alice")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOnDecisionObserver(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eng := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{})

	var observed []audit.Record
	eng.OnDecision(func(rec audit.Record) { observed = append(observed, rec) })

	resp, err := eng.Submit(context.Background(), strongApplication(), "alice")
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.Equal(t, resp.AuditID, observed[0].ID)
	assert.Equal(t, "alice", observed[0].Subject)
}

func TestStats(t *testing.T) {
	store, err := audit.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	approved := newTestEngine(t, constModel{p: 0.91, n: 13}, store, Config{})
	rejected := newTestEngine(t, constModel{p: 0.22, n: 13}, store, Config{})

	_, err = approved.Submit(context.Background(), strongApplication(), "a")
	require.NoError(t, err)
	_, err = rejected.Submit(context.Background(), strongApplication(), "b")
	require.NoError(t, err)

	stats, err := approved.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDecisions)
	assert.InDelta(t, 0.5, stats.ApprovalRate, 1e-12)
	assert.Equal(t, 1, stats.RiskBands["Low"])
	assert.Equal(t, 1, stats.RiskBands["High"])
}
