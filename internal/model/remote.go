package model

import (
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Remote scores vectors against an external inference service instead of the
// embedded classifier. The service owns the fitted pipeline; this client only
// ships vectors and validates the returned probability.
type Remote struct {
	rest        *resty.Client
	url         string
	numFeatures int
}

type scoreReq struct {
	Features []float64 `json:"features"`
}

type scoreResp struct {
	Probability float64 `json:"probability"`
	Error       string  `json:"error,omitempty"`
}

func NewRemote(url string, numFeatures int, timeout time.Duration) *Remote {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Remote{rest: r, url: url, numFeatures: numFeatures}
}

func (m *Remote) NumFeatures() int {
	return m.numFeatures
}

func (m *Remote) Probability(vec []float64) (float64, error) {
	if len(vec) != m.numFeatures {
		return 0, &InferenceError{
			Reason: fmt.Sprintf("expected %d features, got %d", m.numFeatures, len(vec)),
		}
	}

	resp := &scoreResp{}
	httpResp, err := m.rest.R().
		SetBody(scoreReq{Features: vec}).
		SetResult(resp).
		Post(m.url)
	if err != nil {
		return 0, fmt.Errorf("remote score: %w", err)
	}
	if httpResp.IsError() {
		log.Error().Int("status", httpResp.StatusCode()).Str("url", m.url).Msg("remote scorer returned error status")
		return 0, fmt.Errorf("remote score: status %d", httpResp.StatusCode())
	}
	if resp.Error != "" {
		return 0, &InferenceError{Reason: fmt.Sprintf("remote scorer: %s", resp.Error)}
	}
	if math.IsNaN(resp.Probability) || resp.Probability < 0 || resp.Probability > 1 {
		return 0, &InferenceError{Reason: fmt.Sprintf("remote score %v outside [0,1]", resp.Probability)}
	}
	return resp.Probability, nil
}
