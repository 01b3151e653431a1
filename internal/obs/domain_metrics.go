package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// StkPushTotal counts STK push initiation outcomes.
	StkPushTotal *prometheus.CounterVec
	// StkCallbackTotal counts processed payment callbacks by outcome.
	StkCallbackTotal *prometheus.CounterVec
	// StkQueryTotal counts STK status query outcomes.
	StkQueryTotal *prometheus.CounterVec
	// TokenFetchTotal counts OAuth token lookups split by cache hit, fetch and failure.
	TokenFetchTotal *prometheus.CounterVec
	// ProviderLatency records Daraja call latency in milliseconds.
	ProviderLatency *prometheus.HistogramVec
)

func init() {
	// Collectors exist before registration so callers never see nil vectors.
	newDomainCollectors("stk_gateway")
}

func newDomainCollectors(namespace string) {
	StkPushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stk_push_total",
		Help:      "Count of STK push initiation outcomes.",
	}, []string{"result"})
	StkCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stk_callback_total",
		Help:      "Count of processed STK callbacks by outcome.",
	}, []string{"result"})
	StkQueryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stk_query_total",
		Help:      "Count of STK status query outcomes.",
	}, []string{"result"})
	TokenFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mpesa_token_total",
		Help:      "Count of OAuth access token lookups by source.",
	}, []string{"result"})
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "mpesa_request_duration_ms",
		Help:      "Latency for Daraja API calls in milliseconds.",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"operation", "status"})
}

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if namespace != "" {
			newDomainCollectors(namespace)
		}

		for _, vec := range []**prometheus.CounterVec{&StkPushTotal, &StkCallbackTotal, &StkQueryTotal, &TokenFetchTotal} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, ProviderLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderLatency = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
