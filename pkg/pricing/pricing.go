// Package pricing implements the data-driven pricing table spec.md §6
// describes: per-model input/output cost per million tokens, with a
// default fallback for unknown models. Adapted from nexus's
// internal/status DefaultModelCosts/EstimateUsageCost, generalized from a
// provider-keyed nested map to the flat `models: {<model_id>: {...}}`
// shape the harness's pricing table uses.
package pricing

import "math"

// ModelCost is one entry of the pricing table.
type ModelCost struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million"`
}

// Table is the pricing table consulted by the harness's cost accounting
// (spec.md §4.15, §6).
type Table struct {
	Models  map[string]ModelCost `json:"models" yaml:"models"`
	Default ModelCost            `json:"default" yaml:"default"`
}

// DefaultTable mirrors nexus's DefaultModelCosts, flattened to a single
// model-id keyspace since this kernel has no provider dimension of its
// own (the directive names a model, not a provider+model pair).
func DefaultTable() *Table {
	return &Table{
		Models: map[string]ModelCost{
			"claude-3-5-sonnet-20241022": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
			"claude-3-5-sonnet-latest":   {InputPerMillion: 3.0, OutputPerMillion: 15.0},
			"claude-sonnet-4-20250514":   {InputPerMillion: 3.0, OutputPerMillion: 15.0},
			"claude-3-5-haiku-20241022":  {InputPerMillion: 1.0, OutputPerMillion: 5.0},
			"claude-3-opus-20240229":     {InputPerMillion: 15.0, OutputPerMillion: 75.0},
			"claude-3-haiku-20240307":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},
			"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.0},
			"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4-turbo":                {InputPerMillion: 10.0, OutputPerMillion: 30.0},
			"o1":                         {InputPerMillion: 15.0, OutputPerMillion: 60.0},
			"o1-mini":                    {InputPerMillion: 3.0, OutputPerMillion: 12.0},
			"gemini-1.5-pro":             {InputPerMillion: 1.25, OutputPerMillion: 5.0},
			"gemini-1.5-flash":           {InputPerMillion: 0.075, OutputPerMillion: 0.30},
		},
		// Conservative fallback for unknown models (spec.md §4.15).
		Default: ModelCost{InputPerMillion: 15.0, OutputPerMillion: 75.0},
	}
}

// Lookup finds the cost entry for model, falling back to Default when
// unknown.
func (t *Table) Lookup(model string) ModelCost {
	if t == nil {
		return ModelCost{}
	}
	if c, ok := t.Models[model]; ok {
		return c
	}
	return t.Default
}

// Estimate computes spend in USD for a token usage against model's
// pricing entry.
func (t *Table) Estimate(model string, inputTokens, outputTokens int64) float64 {
	cost := t.Lookup(model)
	total := (float64(inputTokens)*cost.InputPerMillion + float64(outputTokens)*cost.OutputPerMillion) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}
