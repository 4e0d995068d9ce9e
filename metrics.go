package kaddht

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kaddht/internal/rpc"
)

// ============================================================================
//                              指标
// ============================================================================

// metrics 引擎指标集合
//
// 实现 rpc.Recorder。
type metrics struct {
	rpcSent      *prometheus.CounterVec
	rpcReceived  *prometheus.CounterVec
	rpcTimeouts  prometheus.Counter
	rpcMalformed prometheus.Counter
	lookupRounds prometheus.Histogram
	tableSize    prometheus.GaugeFunc
	storeSize    prometheus.GaugeFunc
}

var _ rpc.Recorder = (*metrics)(nil)

// newMetrics 创建并注册指标
//
// reg 为 nil 时使用独立的私有注册表，避免多个节点实例
// 在同一进程内（如测试）的重复注册冲突。
func newMetrics(reg prometheus.Registerer, tableSize, storeSize func() int) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		rpcSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaddht",
			Name:      "rpc_sent_total",
			Help:      "Outbound RPC requests by kind.",
		}, []string{"kind"}),
		rpcReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaddht",
			Name:      "rpc_received_total",
			Help:      "Inbound RPC requests by kind.",
		}, []string{"kind"}),
		rpcTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaddht",
			Name:      "rpc_timeouts_total",
			Help:      "Outbound RPC requests that hit the deadline.",
		}),
		rpcMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaddht",
			Name:      "rpc_malformed_total",
			Help:      "Inbound datagrams dropped as malformed.",
		}),
		lookupRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kaddht",
			Name:      "lookup_rounds",
			Help:      "Rounds per iterative lookup.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
		}),
		tableSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kaddht",
			Name:      "routing_table_contacts",
			Help:      "Contacts currently in the routing table.",
		}, func() float64 { return float64(tableSize()) }),
		storeSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kaddht",
			Name:      "store_records",
			Help:      "Unexpired records in the local store.",
		}, func() float64 { return float64(storeSize()) }),
	}

	reg.MustRegister(
		m.rpcSent, m.rpcReceived, m.rpcTimeouts, m.rpcMalformed,
		m.lookupRounds, m.tableSize, m.storeSize,
	)
	return m
}

// RPCSent 实现 rpc.Recorder
func (m *metrics) RPCSent(kind string) {
	m.rpcSent.WithLabelValues(kind).Inc()
}

// RPCReceived 实现 rpc.Recorder
func (m *metrics) RPCReceived(kind string) {
	m.rpcReceived.WithLabelValues(kind).Inc()
}

// RPCTimeout 实现 rpc.Recorder
func (m *metrics) RPCTimeout() {
	m.rpcTimeouts.Inc()
}

// RPCMalformed 实现 rpc.Recorder
func (m *metrics) RPCMalformed() {
	m.rpcMalformed.Inc()
}

// ObserveLookupRounds 记录一次查找的轮数
func (m *metrics) ObserveLookupRounds(rounds int) {
	m.lookupRounds.Observe(float64(rounds))
}
