package uow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/cqbus/metrics"
)

// Metrics 工作单元的运行指标。零值与 nil 均可安全使用，此时不做任何记录。
type Metrics struct {
	Transactions     *prometheus.CounterVec   // 按结果（commit/rollback）与层级（root/nested）统计
	EventsEmitted    *prometheus.CounterVec   // 进入事务缓冲区的事件
	EventsDispatched *prometheus.CounterVec   // 最终分发的事件
	HandlerFailures  *prometheus.CounterVec   // 订阅者返回错误或 panic
	FlushDuration    *prometheus.HistogramVec // 一次最终分发的耗时
}

// NewMetrics 在给定的注册表上创建工作单元指标.
func NewMetrics(m *metrics.Metrics) *Metrics {
	return &Metrics{
		Transactions: m.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cqbus",
			Subsystem: "uow",
			Name:      "transactions_total",
			Help:      "Closed unit of work transactions by outcome and level",
		}, []string{"uow", "outcome", "level"}),
		EventsEmitted: m.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cqbus",
			Subsystem: "uow",
			Name:      "events_emitted_total",
			Help:      "Events collected into a transaction",
		}, []string{"uow", "event"}),
		EventsDispatched: m.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cqbus",
			Subsystem: "uow",
			Name:      "events_dispatched_total",
			Help:      "Events delivered to subscribers on final dispatch",
		}, []string{"uow", "event"}),
		HandlerFailures: m.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cqbus",
			Subsystem: "uow",
			Name:      "handler_failures_total",
			Help:      "Event subscribers that returned an error or panicked",
		}, []string{"uow", "event", "handler"}),
		FlushDuration: m.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cqbus",
			Subsystem: "uow",
			Name:      "flush_duration_seconds",
			Help:      "Duration of the final event dispatch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"uow"}),
	}
}

func level(root bool) string {
	if root {
		return "root"
	}
	return "nested"
}

func (m *Metrics) transaction(uow, outcome string, root bool) {
	if m == nil || m.Transactions == nil {
		return
	}
	m.Transactions.WithLabelValues(uow, outcome, level(root)).Inc()
}

func (m *Metrics) emitted(uow, event string) {
	if m == nil || m.EventsEmitted == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(uow, event).Inc()
}

func (m *Metrics) dispatched(uow, event string) {
	if m == nil || m.EventsDispatched == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(uow, event).Inc()
}

func (m *Metrics) failed(uow, event, handler string) {
	if m == nil || m.HandlerFailures == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(uow, event, handler).Inc()
}

func (m *Metrics) flushed(uow string, d time.Duration) {
	if m == nil || m.FlushDuration == nil {
		return
	}
	m.FlushDuration.WithLabelValues(uow).Observe(d.Seconds())
}
