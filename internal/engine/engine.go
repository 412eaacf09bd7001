// Package engine orchestrates the decision pipeline: validate and transform
// the application, score it, attribute the score, apply the decision policy,
// and append the audit record. All pipeline stages except the audit store are
// pure functions over immutable fitted state, so any number of requests may
// run the pipeline concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fintech-approve/internal/audit"
	"fintech-approve/internal/explain"
	"fintech-approve/internal/feature"
	"fintech-approve/internal/metrics"
	"fintech-approve/internal/model"
	"fintech-approve/internal/policy"
)

// AuditStore is the durable log the engine appends to. *audit.Store satisfies
// it; tests substitute failing stores.
type AuditStore interface {
	Append(rec audit.Record) (string, error)
	History(subject string) ([]audit.Record, error)
	Aggregate(recentLimit int) (audit.Stats, error)
}

// Response is the full result returned to the caller for one application.
type Response struct {
	Decision policy.Decision `json:"decision"`
	AuditID  string          `json:"audit_id,omitempty"`
}

// Config carries the engine's operational knobs.
type Config struct {
	TopKDrivers int
	// AuditRequired makes a failed audit append fail the whole request
	// instead of downgrading to a logged warning.
	AuditRequired    bool
	RecentStatsLimit int
	// RequestTimeout bounds one pipeline run. Zero disables the bound.
	RequestTimeout time.Duration
}

// Engine wires the fitted pipeline stages together.
type Engine struct {
	transformer *feature.Transformer
	model       model.Model
	attributor  *explain.Attributor
	policy      *policy.Policy
	store       AuditStore
	cfg         Config
	metrics     *metrics.Metrics

	// onDecision, when set, observes every completed decision record. Used
	// by the transport layer to stream decisions to connected dashboards.
	onDecision func(audit.Record)
}

func New(t *feature.Transformer, m model.Model, attr *explain.Attributor, pol *policy.Policy, store AuditStore, cfg Config, mx *metrics.Metrics) *Engine {
	if cfg.TopKDrivers <= 0 {
		cfg.TopKDrivers = 5
	}
	if cfg.RecentStatsLimit <= 0 {
		cfg.RecentStatsLimit = 10
	}
	if mx != nil {
		mx.AttributionSamples.Set(float64(attr.SampleCount()))
	}
	return &Engine{
		transformer: t,
		model:       m,
		attributor:  attr,
		policy:      pol,
		store:       store,
		cfg:         cfg,
		metrics:     mx,
	}
}

// OnDecision registers the decision observer. Must be called before the
// engine starts serving.
func (e *Engine) OnDecision(fn func(audit.Record)) {
	e.onDecision = fn
}

// Submit runs the full pipeline for one application. subject is the already
// resolved caller identity; empty means anonymous. The decision is returned
// even when audit persistence fails, unless the engine is configured
// audit-or-nothing.
func (e *Engine) Submit(ctx context.Context, app feature.Application, subject string) (*Response, error) {
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()

	vec, err := e.transformer.Transform(app)
	if err != nil {
		var serr *feature.SchemaError
		if errors.As(err, &serr) && e.metrics != nil {
			e.metrics.SchemaErrors.Inc()
		}
		return nil, err
	}

	prob, err := e.model.Probability(vec)
	if err != nil {
		return nil, fmt.Errorf("score application: %w", err)
	}

	decision, err := e.policy.Evaluate(prob, app)
	if err != nil {
		log.Error().Err(err).Float64("probability", prob).Msg("decision policy integrity violation")
		return nil, err
	}

	attrStart := time.Now()
	attribution, err := e.attributor.Attribute(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("attribute decision: %w", err)
	}
	if e.metrics != nil {
		e.metrics.AttributionLatency.Observe(time.Since(attrStart).Seconds())
	}

	decision.Drivers = attribution.TopDrivers(e.cfg.TopKDrivers)
	decision.Recommendation = policy.Recommend(decision.Verdict, decision.RiskBand, decision.Drivers)

	// A timed-out request must not leave an audit write behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := audit.Record{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Decision:  decision,
		Input:     app,
	}
	auditID, err := e.appendWithRetry(rec)
	if err != nil {
		if e.cfg.AuditRequired {
			return nil, err
		}
		log.Warn().Err(err).Str("subject", subject).Msg("audit append failed, returning decision without audit id")
	}

	if e.metrics != nil {
		if decision.Verdict == policy.VerdictApproved {
			e.metrics.DecisionsApproved.Inc()
		} else {
			e.metrics.DecisionsRejected.Inc()
		}
		e.metrics.PipelineLatency.Observe(time.Since(start).Seconds())
	}

	if e.onDecision != nil && auditID != "" {
		rec.ID = auditID
		e.onDecision(rec)
	}

	log.Debug().
		Str("verdict", string(decision.Verdict)).
		Float64("probability", decision.Probability).
		Str("risk_band", string(decision.RiskBand)).
		Str("audit_id", auditID).
		Msg("decision served")

	return &Response{Decision: decision, AuditID: auditID}, nil
}

// appendWithRetry performs the audit append with one immediate retry on
// storage failure.
func (e *Engine) appendWithRetry(rec audit.Record) (string, error) {
	id, err := e.store.Append(rec)
	if err == nil {
		if e.metrics != nil {
			e.metrics.AuditAppends.Inc()
		}
		return id, nil
	}

	if e.metrics != nil {
		e.metrics.AuditRetries.Inc()
	}
	log.Warn().Err(err).Msg("audit append failed, retrying once")

	id, err = e.store.Append(rec)
	if err == nil {
		if e.metrics != nil {
			e.metrics.AuditAppends.Inc()
		}
		return id, nil
	}
	if e.metrics != nil {
		e.metrics.AuditFailures.Inc()
	}
	return "", err
}

// History returns a subject's past decisions, newest first.
func (e *Engine) History(subject string) ([]audit.Record, error) {
	return e.store.History(subject)
}

// Stats returns the aggregate view over all recorded decisions.
func (e *Engine) Stats() (audit.Stats, error) {
	return e.store.Aggregate(e.cfg.RecentStatsLimit)
}
