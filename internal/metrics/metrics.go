// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 台帳（ledger）とBotディスパッチャーから利用する。
type MetricsCollector interface {
	RecordClockIn()
	RecordClockOut(elapsed time.Duration)
	RecordRejected(code string)
	RecordPersistenceFailure(op string)
	SetActiveSessions(count int)
	RecordInteraction(action string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	clockIn         prometheus.Counter
	clockOut        prometheus.Counter
	rejected        *prometheus.CounterVec
	persistFail     *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	activeSessions  prometheus.Gauge
	interactions    *prometheus.CounterVec
}

// sessionBuckets はセッション時間ヒストグラムのバケット（秒）。15分から12時間まで。
var sessionBuckets = []float64{
	15 * 60, 30 * 60, 60 * 60, 2 * 60 * 60, 4 * 60 * 60, 6 * 60 * 60, 8 * 60 * 60, 10 * 60 * 60, 12 * 60 * 60,
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clockIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeclock_clock_in_total",
			Help: "出勤の合計数",
		}),
		clockOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeclock_clock_out_total",
			Help: "退勤の合計数",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_rejected_total",
			Help: "エラーコード別の拒否された操作数",
		}, []string{"code"}),
		persistFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_persistence_failures_total",
			Help: "操作別の永続化失敗数",
		}, []string{"op"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeclock_session_duration_seconds",
			Help:    "終了したセッションの長さ（秒）",
			Buckets: sessionBuckets,
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeclock_active_sessions",
			Help: "現在稼働中のセッション数",
		}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_interactions_total",
			Help: "アクション別のインタラクション数",
		}, []string{"action"}),
	}

	reg.MustRegister(
		c.clockIn,
		c.clockOut,
		c.rejected,
		c.persistFail,
		c.sessionDuration,
		c.activeSessions,
		c.interactions,
	)

	return c
}

// RecordClockIn は出勤を記録する。
func (c *Collector) RecordClockIn() {
	c.clockIn.Inc()
}

// RecordClockOut は退勤とセッションの長さを記録する。
func (c *Collector) RecordClockOut(elapsed time.Duration) {
	c.clockOut.Inc()
	c.sessionDuration.Observe(elapsed.Seconds())
}

// RecordRejected は拒否された操作をエラーコード別に記録する。
func (c *Collector) RecordRejected(code string) {
	c.rejected.WithLabelValues(code).Inc()
}

// RecordPersistenceFailure は永続化失敗を記録する。
func (c *Collector) RecordPersistenceFailure(op string) {
	c.persistFail.WithLabelValues(op).Inc()
}

// SetActiveSessions は稼働中セッション数を設定する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// RecordInteraction はBotへのインタラクションを記録する。
func (c *Collector) RecordInteraction(action string) {
	c.interactions.WithLabelValues(action).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordClockIn() {}
func (NopCollector) RecordClockOut(time.Duration) {}
func (NopCollector) RecordRejected(string) {}
func (NopCollector) RecordPersistenceFailure(string) {}
func (NopCollector) SetActiveSessions(int) {}
func (NopCollector) RecordInteraction(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
