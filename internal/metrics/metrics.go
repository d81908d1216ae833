package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests     prometheus.Counter
	ProviderCalls    *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	FallbackSwitches prometheus.Counter
	EnqueuedJobs     prometheus.Counter
	ProcessedJobs    prometheus.Counter
	FailedJobs       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "chat_requests_total",
				Help:      "Total chat requests received",
			}),
			ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "provider_calls_total",
				Help:      "Total LLM provider calls by provider",
			}, []string{"provider"}),
			ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "provider_failures_total",
				Help:      "Total failed LLM provider calls by provider",
			}, []string{"provider"}),
			FallbackSwitches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "fallback_switches_total",
				Help:      "Total requests served by a non-primary provider",
			}),
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "jobs_enqueued_total",
				Help:      "Total automation jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "jobs_processed_total",
				Help:      "Total automation jobs successfully processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "netpilot",
				Name:      "jobs_failed_total",
				Help:      "Total automation jobs failed during processing",
			}),
		}
		prometheus.MustRegister(
			global.ChatRequests,
			global.ProviderCalls,
			global.ProviderFailures,
			global.FallbackSwitches,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
		)
	})
	return global
}
