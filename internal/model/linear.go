// Package model holds the model payload codecs shared by training
// stages and the serving decoder.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Linear is a linear regression model over named features. The
// feature schema is fixed at training time and travels inside the
// artifact payload.
type Linear struct {
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

func (m Linear) Validate() error {
	if len(m.Features) == 0 {
		return errors.New("model has no features")
	}
	if len(m.Weights) != len(m.Features) {
		return fmt.Errorf("model has %d weights for %d features", len(m.Weights), len(m.Features))
	}
	return nil
}

// Predict evaluates the model on a feature map. Every schema feature
// must be present; extra keys are ignored.
func (m Linear) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	value := m.Bias
	for i, name := range m.Features {
		x, ok := features[name]
		if !ok {
			return 0, fmt.Errorf("missing feature %q", name)
		}
		value += m.Weights[i] * x
	}
	return value, nil
}

// EncodeLinear serializes a model into an artifact payload.
func EncodeLinear(m Linear) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeLinear deserializes a model artifact payload.
func DecodeLinear(payload []byte) (Linear, error) {
	var m Linear
	if err := json.Unmarshal(payload, &m); err != nil {
		return Linear{}, fmt.Errorf("decode linear model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Linear{}, err
	}
	return m, nil
}
