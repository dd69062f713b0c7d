// Package dispatch Prometheus 指标导出
package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 调度器指标
type Metrics struct {
	// 作业指标
	JobsRunning prometheus.Gauge
	JobAttempts *prometheus.CounterVec
	JobDuration prometheus.Histogram

	// 运行指标
	VariantsTotal *prometheus.CounterVec
}

// NewMetrics 创建调度器指标实例
// reg 为 nil 时注册到默认 registry（测试传入独立 registry 避免重复注册）
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of cluster jobs currently running",
		}),
		JobAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempts_total",
			Help:      "Total job attempts by outcome",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of job attempts in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		VariantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_total",
			Help:      "Total dispatched variants by terminal state",
		}, []string{"state"}),
	}
}
