package engine

import "github.com/prometheus/client_golang/prometheus"

// Shard-level metrics: a package-level GaugeVec/CounterVec registered
// once in init().
var (
	quickieTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "shard",
			Name:      "quickie_total",
			Help:      "Number of single-shard transactions that ran via the uncontended quickie fast path.",
		}, []string{"shard"})

	oooGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "shard",
			Name:      "ooo_granted_total",
			Help:      "Number of multi-shard transactions scheduled with the out-of-order flag set.",
		}, []string{"shard"})

	blockedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardkv",
			Subsystem: "shard",
			Name:      "blocked_transactions",
			Help:      "Number of transactions currently suspended on this shard's watch registry.",
		}, []string{"shard"})

	queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardkv",
			Subsystem: "shard",
			Name:      "txqueue_depth",
			Help:      "Number of transactions currently queued on this shard's TxQueue.",
		}, []string{"shard"})
)

func init() {
	prometheus.MustRegister(quickieTotal, oooGrantedTotal, blockedGauge, queueDepthGauge)
}
