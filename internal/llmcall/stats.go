package llmcall

import (
	"sort"
)

// Stats aggregates a set of recorded calls.
type Stats struct {
	Count        int `json:"count" yaml:"count"`
	SuccessCount int `json:"success_count" yaml:"success_count"`
	ErrorCount   int `json:"error_count" yaml:"error_count"`

	// Latency in milliseconds
	LatencyAvg float64 `json:"latency_avg_ms" yaml:"latency_avg_ms"`
	LatencyP50 float64 `json:"latency_p50_ms" yaml:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms" yaml:"latency_p95_ms"`
	LatencyMax float64 `json:"latency_max_ms" yaml:"latency_max_ms"`

	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`

	// Tokens per model
	TokensByModel map[string]int `json:"tokens_by_model" yaml:"tokens_by_model"`
}

// Summarize computes Stats over calls.
func Summarize(calls []Call) Stats {
	s := Stats{Count: len(calls), TokensByModel: make(map[string]int)}
	if len(calls) == 0 {
		return s
	}

	latencies := make([]float64, 0, len(calls))
	for _, c := range calls {
		if c.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		s.InputTokens += c.InputTokens
		s.OutputTokens += c.OutputTokens
		if c.Model != "" {
			s.TokensByModel[c.Model] += c.InputTokens + c.OutputTokens
		}
		if c.LatencyMs > 0 {
			latencies = append(latencies, float64(c.LatencyMs))
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		s.LatencyAvg = sum / float64(len(latencies))
		s.LatencyP50 = percentile(latencies, 50)
		s.LatencyP95 = percentile(latencies, 95)
		s.LatencyMax = latencies[len(latencies)-1]
	}
	return s
}

// percentile interpolates the p-th percentile of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[lower+1]*weight
}
