// Package metrics はPrometheusメトリクスの定義と公開を行う。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はアプリケーション全体のメトリクスを保持する。
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	eventWritesTotal       *prometheus.CounterVec
	conflictsTotal         prometheus.Counter
	pairsCreatedTotal      prometheus.Counter
	notificationsSentTotal *prometheus.CounterVec
	remindersFiredTotal    prometheus.Counter
	overdueNotifiedTotal   prometheus.Counter
}

// New はメトリクスを生成してレジストリに登録する。
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paircal_http_requests_total",
			Help: "HTTPリクエストの総数",
		}, []string{"method", "status"}),
		eventWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paircal_event_writes_total",
			Help: "予定への書き込み操作の総数",
		}, []string{"op"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_conflicts_total",
			Help: "楽観ロックで拒否された書き込みの総数",
		}),
		pairsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_pairs_created_total",
			Help: "ペアリングコードの償還で作成されたペアの総数",
		}),
		notificationsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paircal_notifications_sent_total",
			Help: "配送に成功した通知の総数",
		}, []string{"channel"}),
		remindersFiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_reminders_fired_total",
			Help: "発火したリマインダーの総数",
		}),
		overdueNotifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_overdue_notified_total",
			Help: "期限超過を通知したタスクの総数",
		}),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.eventWritesTotal,
		m.conflictsTotal,
		m.pairsCreatedTotal,
		m.notificationsSentTotal,
		m.remindersFiredTotal,
		m.overdueNotifiedTotal,
	)
	return m
}

// Handler は/metrics用のハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncEventWrite は予定への書き込み操作を記録する。
func (m *Metrics) IncEventWrite(op string) {
	m.eventWritesTotal.WithLabelValues(op).Inc()
}

// IncConflict は楽観ロックによる書き込み拒否を記録する。
func (m *Metrics) IncConflict() {
	m.conflictsTotal.Inc()
}

// IncPairCreated はペアの作成を記録する。
func (m *Metrics) IncPairCreated() {
	m.pairsCreatedTotal.Inc()
}

// IncNotificationSent は通知の配送成功を記録する。
func (m *Metrics) IncNotificationSent(channel string) {
	m.notificationsSentTotal.WithLabelValues(channel).Inc()
}

// IncReminderFired はリマインダーの発火を記録する。
func (m *Metrics) IncReminderFired() {
	m.remindersFiredTotal.Inc()
}

// IncOverdueNotified は期限超過通知を記録する。
func (m *Metrics) IncOverdueNotified() {
	m.overdueNotifiedTotal.Inc()
}

// statusRecorder はステータスコードを記録するレスポンスラッパー。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware はリクエスト数のメトリクスを記録するミドルウェアを返す。
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
	})
}
