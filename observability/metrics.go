package observability

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records protocol activity for the operational dashboards.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	operationFails *prometheus.CounterVec
	liquidated     *prometheus.CounterVec
	redeemed       *prometheus.CounterVec
	poolDeposits   prometheus.Gauge
	baseRate       *prometheus.GaugeVec
	systemDebt     *prometheus.GaugeVec
	systemColl     *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation name.",
			}, []string{"operation"}),
			operationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "operation_failures_total",
				Help:      "Total rejected ledger operations segmented by operation name.",
			}, []string{"operation"}),
			liquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "positions_liquidated_total",
				Help:      "Positions closed by liquidation per asset.",
			}, []string{"asset"}),
			redeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "redemptions_total",
				Help:      "Redemption walks executed per asset.",
			}, []string{"asset"}),
			poolDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stablis",
				Subsystem: "pool",
				Name:      "total_deposits",
				Help:      "Stable tokens currently held by the stability pool.",
			}),
			baseRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "base_rate",
				Help:      "Decaying fee base rate per asset.",
			}, []string{"asset"}),
			systemDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "system_debt",
				Help:      "Aggregate debt across active and default ledgers per asset.",
			}, []string{"asset"}),
			systemColl: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stablis",
				Subsystem: "ledger",
				Name:      "system_collateral",
				Help:      "Aggregate collateral across active and default ledgers per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.operationFails,
			ledgerRegistry.liquidated,
			ledgerRegistry.redeemed,
			ledgerRegistry.poolDeposits,
			ledgerRegistry.baseRate,
			ledgerRegistry.systemDebt,
			ledgerRegistry.systemColl,
		)
	})
	return ledgerRegistry
}

// RecordOperation counts one ledger operation and its outcome.
func (m *LedgerMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation).Inc()
	if err != nil {
		m.operationFails.WithLabelValues(operation).Inc()
	}
}

// RecordLiquidations counts closed positions for an asset.
func (m *LedgerMetrics) RecordLiquidations(asset string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.liquidated.WithLabelValues(asset).Add(float64(count))
}

// RecordRedemption counts one redemption walk.
func (m *LedgerMetrics) RecordRedemption(asset string) {
	if m == nil {
		return
	}
	m.redeemed.WithLabelValues(asset).Inc()
}

// SetPoolDeposits publishes the current pool size.
func (m *LedgerMetrics) SetPoolDeposits(total *big.Int) {
	if m == nil {
		return
	}
	m.poolDeposits.Set(approximate(total))
}

// SetBaseRate publishes the decayed base rate for an asset.
func (m *LedgerMetrics) SetBaseRate(asset string, rate *big.Int) {
	if m == nil {
		return
	}
	m.baseRate.WithLabelValues(asset).Set(approximate(rate))
}

// SetSystemTotals publishes the aggregate debt and collateral for an asset.
func (m *LedgerMetrics) SetSystemTotals(asset string, debt, coll *big.Int) {
	if m == nil {
		return
	}
	m.systemDebt.WithLabelValues(asset).Set(approximate(debt))
	m.systemColl.WithLabelValues(asset).Set(approximate(coll))
}

// approximate converts a 1e18-scale big integer to a float for gauge export.
// Precision loss is acceptable here; the ledger itself never uses floats.
func approximate(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
