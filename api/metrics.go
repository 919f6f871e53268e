package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigbridge/signal"
	"sigbridge/trader"
)

// Metrics Prometheus 指标集
// 用独立 Registry，避免和其它组件的默认注册表互相踩
type Metrics struct {
	registry *prometheus.Registry
	signals  *prometheus.CounterVec
	orders   *prometheus.CounterVec
}

// NewMetrics 创建并注册指标
func NewMetrics(store *trader.PositionStore) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbridge_signals_total",
			Help: "按来源和终态统计的信号数",
		}, []string{"origin", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbridge_orders_total",
			Help: "按订单腿和结果统计的交易所下单数",
		}, []string{"leg", "status"}),
	}

	openPositions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sigbridge_open_positions",
		Help: "当前非 flat 的持仓数量",
	}, func() float64 {
		return float64(store.OpenCount())
	})

	m.registry.MustRegister(m.signals, m.orders, openPositions)
	return m
}

// RecordResult 挂到执行引擎的 OnResult 回调上
func (m *Metrics) RecordResult(sig *signal.Signal, res *trader.Result) {
	m.signals.WithLabelValues(string(sig.Origin), string(res.Status)).Inc()

	// 订单腿：有单号算成功，FailedLeg 标记失败
	if res.CloseOrderID != "" {
		m.orders.WithLabelValues(string(trader.LegClose), "ok").Inc()
	}
	if res.OrderID != "" {
		m.orders.WithLabelValues(string(trader.LegOpen), "ok").Inc()
	}
	if res.FailedLeg != "" {
		m.orders.WithLabelValues(string(res.FailedLeg), "failed").Inc()
	}
}

// Handler /metrics 的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
