package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CommissionResolutionTotal counts commission resolutions by match type.
	CommissionResolutionTotal *prometheus.CounterVec
	// VoucherValidationTotal counts voucher validation call outcomes.
	VoucherValidationTotal *prometheus.CounterVec
	// OrdersFinalizedTotal counts finalized orders.
	OrdersFinalizedTotal prometheus.Counter
	// OrderGrandTotal records the grand totals of finalized orders.
	OrderGrandTotal prometheus.Histogram
	// RuleCacheRefreshTotal counts rule cache misses that hit the store.
	RuleCacheRefreshTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CommissionResolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_resolution_total",
			Help:      "Count of commission resolutions by match type.",
		}, []string{"match_type"})
		VoucherValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_validation_total",
			Help:      "Count of voucher validation outcomes.",
		}, []string{"result"})
		OrdersFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_finalized_total",
			Help:      "Total number of finalized orders.",
		})
		OrderGrandTotal = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_grand_total",
			Help:      "Grand totals of finalized orders in minor currency units.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 8),
		})
		RuleCacheRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_refresh_total",
			Help:      "Number of commission rule loads that bypassed the cache.",
		})

		mustRegisterCollector(reg, CommissionResolutionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CommissionResolutionTotal = v
			}
		})
		mustRegisterCollector(reg, VoucherValidationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VoucherValidationTotal = v
			}
		})
		mustRegisterCollector(reg, OrdersFinalizedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrdersFinalizedTotal = v
			}
		})
		mustRegisterCollector(reg, OrderGrandTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				OrderGrandTotal = v
			}
		})
		mustRegisterCollector(reg, RuleCacheRefreshTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				RuleCacheRefreshTotal = v
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
