package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vnmchuo/forecast-api/internal/forecast"
)

// artifact is the JSON export produced by the training pipeline: a bias
// term, per-feature linear weights, and optional multiplicative factors
// learned per store and per item.
type artifact struct {
	Version      string             `json:"version"`
	Bias         float64            `json:"bias"`
	Weights      map[string]float64 `json:"weights"`
	StoreFactors map[string]float64 `json:"store_factors"`
	ItemFactors  map[string]float64 `json:"item_factors"`
}

var knownFeatures = map[string]bool{
	"store":          true,
	"item":           true,
	"year":           true,
	"month":          true,
	"day":            true,
	"dayofweek":      true,
	"is_weekend":     true,
	"is_month_start": true,
	"is_month_end":   true,
}

// Model scores requests with an artifact exported by the training
// pipeline. It is stateless after construction and safe for concurrent use.
type Model struct {
	art artifact
}

// LoadModel reads and validates a model artifact from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return NewModel(data)
}

// NewModel builds a Model from raw artifact JSON.
func NewModel(data []byte) (*Model, error) {
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if len(art.Weights) == 0 {
		return nil, fmt.Errorf("model artifact has no feature weights")
	}
	for name := range art.Weights {
		if !knownFeatures[name] {
			return nil, fmt.Errorf("model artifact references unknown feature %q", name)
		}
	}
	return &Model{art: art}, nil
}

// Version reports the artifact version string, if any.
func (m *Model) Version() string {
	return m.art.Version
}

// Predict derives calendar features from the request date and scores the
// feature vector against the artifact.
func (m *Model) Predict(_ context.Context, req forecast.Request) (float64, error) {
	date, err := time.Parse(forecast.DateLayout, req.Date)
	if err != nil {
		return 0, fmt.Errorf("parse request date: %w", err)
	}

	features := deriveFeatures(date, req.Store, req.Item)

	score := m.art.Bias
	for name, weight := range m.art.Weights {
		score += weight * features[name]
	}

	if f, ok := m.art.StoreFactors[strconv.Itoa(req.Store)]; ok {
		score *= f
	}
	if f, ok := m.art.ItemFactors[strconv.Itoa(req.Item)]; ok {
		score *= f
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}

// deriveFeatures expands a calendar date into the feature set the training
// pipeline uses. Day-of-week is Monday=0 through Sunday=6 to match the
// training data encoding.
func deriveFeatures(date time.Time, store, item int) map[string]float64 {
	dayofweek := (int(date.Weekday()) + 6) % 7

	features := map[string]float64{
		"store":     float64(store),
		"item":      float64(item),
		"year":      float64(date.Year()),
		"month":     float64(int(date.Month())),
		"day":       float64(date.Day()),
		"dayofweek": float64(dayofweek),
	}

	if dayofweek >= 5 {
		features["is_weekend"] = 1
	}
	if date.Day() == 1 {
		features["is_month_start"] = 1
	}
	if date.AddDate(0, 0, 1).Day() == 1 {
		features["is_month_end"] = 1
	}
	return features
}
