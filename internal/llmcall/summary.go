package llmcall

import (
	"context"
	"fmt"
	"time"
)

// Summary aggregates calls per provider and model.
type Summary struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Count         int     `json:"count"`
	SuccessCount  int     `json:"successCount"`
	ErrorCount    int     `json:"errorCount"`
	InputTokens   int     `json:"inputTokens"`
	OutputTokens  int     `json:"outputTokens"`
	TotalCostUSD  float64 `json:"totalCostUsd"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	TotalAttempts int     `json:"totalAttempts"`
}

// Summarize groups calls after since (all calls when nil), busiest first.
func (s *Store) Summarize(ctx context.Context, since *time.Time) ([]Summary, error) {
	where, args := QueryFilter{After: since}.where()
	rows, err := s.db.Query(ctx, `SELECT provider, COALESCE(model, ''), COUNT(1),
        COALESCE(SUM(success), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
        COALESCE(SUM(cost_usd), 0), CAST(COALESCE(AVG(latency_ms), 0) AS DOUBLE PRECISION), COALESCE(SUM(attempts), 0)
        FROM llm_calls`+where+`
        GROUP BY provider, COALESCE(model, '')
        ORDER BY COUNT(1) DESC, provider, COALESCE(model, '')`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize llm calls: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Provider, &sum.Model, &sum.Count, &sum.SuccessCount, &sum.InputTokens,
			&sum.OutputTokens, &sum.TotalCostUSD, &sum.AvgLatencyMs, &sum.TotalAttempts); err != nil {
			return nil, err
		}
		sum.ErrorCount = sum.Count - sum.SuccessCount
		out = append(out, sum)
	}
	return out, rows.Err()
}
