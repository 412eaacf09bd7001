// Package model wraps the fitted approval classifier. The model is loaded
// once at startup and treated as immutable; scoring is a pure function of the
// fitted parameters and the input vector, so concurrent calls need no
// locking.
package model

import "fmt"

// Model scores a transformed feature vector and returns the probability of
// approval, always in [0,1].
type Model interface {
	Probability(vec []float64) (float64, error)
	NumFeatures() int
}

// InferenceError reports a broken model deployment: a dimensionality mismatch
// between the transformer and the fitted model, or a score outside [0,1].
// It is a configuration bug, not a user error, and is never retried.
type InferenceError struct {
	Reason string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("model inference: %s", e.Reason)
}
