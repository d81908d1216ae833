package fallback

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"netpilot/internal/metrics"
	"netpilot/internal/providers"
)

// Candidate is a named provider in the fallback order.
type Candidate struct {
	Name     string
	Model    string
	Provider providers.Provider
}

// Router tries candidates in order and returns the first success. There is
// no backoff between candidates; per-adapter retries happen inside Chat.
type Router struct {
	candidates []Candidate
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Result struct {
	Text     string
	Provider string
	Model    string
}

func NewRouter(candidates []Candidate, logger zerolog.Logger, m *metrics.Metrics) *Router {
	if m == nil {
		m = metrics.Global()
	}
	return &Router{candidates: candidates, logger: logger, metrics: m}
}

func (r *Router) Candidates() []Candidate {
	return r.candidates
}

func (r *Router) Chat(ctx context.Context, req providers.ChatRequest) (Result, error) {
	if len(r.candidates) == 0 {
		return Result{}, fmt.Errorf("no providers configured")
	}

	var lastErr error
	for i, c := range r.candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		creq := req
		if creq.Model == "" {
			creq.Model = c.Model
		}

		r.metrics.ProviderCalls.WithLabelValues(c.Name).Inc()
		resp, err := c.Provider.Chat(ctx, creq)
		if err == nil {
			if i > 0 {
				r.metrics.FallbackSwitches.Inc()
				r.logger.Info().Str("provider", c.Name).Int("attempt", i+1).Msg("request served by fallback provider")
			}
			return Result{Text: resp.Text, Provider: c.Name, Model: creq.Model}, nil
		}

		r.metrics.ProviderFailures.WithLabelValues(c.Name).Inc()
		r.logger.Warn().Err(err).Str("provider", c.Name).Msg("provider call failed, trying next")
		lastErr = err
	}

	return Result{}, fmt.Errorf("all providers failed, last error: %w", lastErr)
}
