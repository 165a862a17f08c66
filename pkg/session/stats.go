package session

import "time"

// ToolStats counts calls to one tool
type ToolStats struct {
	Called int `json:"called"`
	Errors int `json:"errors"`
	// Empty counts calls whose result carried no data
	Empty int `json:"empty"`
}

// Stats summarizes cost, usage and timing across all items of a session
type Stats struct {
	Cost         float64              `json:"cost"`
	TotalTokens  int                  `json:"total_tokens"`
	MaxTokens    int                  `json:"max_tokens"`
	LLMCalls     int                  `json:"llm_calls"`
	Start        time.Time            `json:"start"`
	End          time.Time            `json:"end"`
	Duration     float64              `json:"duration"`
	Tools        map[string]ToolStats `json:"tools"`
	TimeToFirst  float64              `json:"time_to_first_chunk"`
	ChunkLatency float64              `json:"inter_chunk_latency"`
	TokensPerSec float64              `json:"tokens_per_second"`
}

// Stats computes usage statistics over every branch
func (s *Session) Stats() Stats {
	st := Stats{Tools: make(map[string]ToolStats)}

	var ttfc, latency, tps []float64
	for _, it := range s.Items {
		if !it.Meta.Timestamp.IsZero() {
			if st.Start.IsZero() || it.Meta.Timestamp.Before(st.Start) {
				st.Start = it.Meta.Timestamp
			}
			end := it.Meta.EndTime
			if end.IsZero() {
				end = it.Meta.Timestamp
			}
			if end.After(st.End) {
				st.End = end
			}
		}

		if it.Role != RoleAgent {
			continue
		}

		st.LLMCalls++
		st.Cost += it.Meta.Cost
		tokens := it.Meta.InputTokens + it.Meta.OutputTokens
		st.TotalTokens += tokens
		if tokens > st.MaxTokens {
			st.MaxTokens = tokens
		}

		ttfc = append(ttfc, it.Meta.TimeToFirstChunk)
		latency = append(latency, it.Meta.InterChunkLatency)
		if !it.Meta.StartTime.IsZero() && it.Meta.EndTime.After(it.Meta.StartTime) {
			secs := it.Meta.EndTime.Sub(it.Meta.StartTime).Seconds()
			tps = append(tps, float64(it.Meta.OutputTokens)/secs)
		}

		for _, c := range it.ToolUses() {
			ts := st.Tools[c.Name]
			ts.Called++
			if c.Status == ToolError {
				ts.Errors++
			}
			if c.Status != ToolPending && isEmptyResult(c.ResultString()) {
				ts.Empty++
			}
			st.Tools[c.Name] = ts
		}
	}

	if !st.Start.IsZero() {
		st.Duration = st.End.Sub(st.Start).Seconds()
	}
	st.TimeToFirst = mean(ttfc)
	st.ChunkLatency = mean(latency)
	st.TokensPerSec = mean(tps)
	return st
}

func isEmptyResult(r string) bool {
	switch r {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
