package metrics

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// ChainMetrics tracks the state processor: processed calls, the sealed height
// and the headline ledger figures after every commit.
type ChainMetrics struct {
	calls         *prometheus.CounterVec
	height        prometheus.Gauge
	totalSupply   prometheus.Gauge
	totalStaked   prometheus.Gauge
	confirmations *prometheus.GaugeVec
}

var (
	chainOnce     sync.Once
	chainRegistry *ChainMetrics
)

func Chain() *ChainMetrics {
	chainOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tinybank_calls_total",
				Help: "Count of processed calls by type and outcome.",
			}, []string{"type", "outcome"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "tinybank_block_height",
				Help: "Height of the last sealed block.",
			}),
			totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "tinybank_token_total_supply",
				Help: "Ledger total supply in base units.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "tinybank_staking_total_staked",
				Help: "Principal held by the staking pool in base units.",
			}),
			confirmations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tinybank_quorum_confirmations",
				Help: "Confirmations collected for the pending value of a quorum topic.",
			}, []string{"topic"}),
		}
		prometheus.MustRegister(
			chainRegistry.calls,
			chainRegistry.height,
			chainRegistry.totalSupply,
			chainRegistry.totalStaked,
			chainRegistry.confirmations,
		)
	})
	return chainRegistry
}

// RecordCall counts a processed call. outcome is "committed" or "rejected".
func (m *ChainMetrics) RecordCall(callType, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(callType, outcome).Inc()
}

func (m *ChainMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func (m *ChainMetrics) SetTotals(supply, staked *uint256.Int) {
	if m == nil {
		return
	}
	m.totalSupply.Set(toFloat(supply))
	m.totalStaked.Set(toFloat(staked))
}

func (m *ChainMetrics) SetConfirmations(topic string, confirmed int) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(topic).Set(float64(confirmed))
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return v.Float64()
}
