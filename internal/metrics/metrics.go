// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込み、レポート生成、ワーカーから利用する。
type MetricsCollector interface {
	RecordMessageIngested(source string)
	RecordIngestFailure(source string)
	RecordTokensCounted(itemType string, count int)
	RecordReportGenerated(trigger string)
	RecordReportFailure(trigger string)
	RecordRenderFailure(kind string)
	RecordStoreError(op string)
	RecordQueryLatency(op string, duration time.Duration)
	RecordSnapshotRefreshed(period string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	messagesIngested  *prometheus.CounterVec
	ingestFail        *prometheus.CounterVec
	tokensCounted     *prometheus.CounterVec
	reportsGenerated  *prometheus.CounterVec
	reportsFail       *prometheus.CounterVec
	renderFail        *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
	queryLatency      *prometheus.HistogramVec
	snapshotRefreshed *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_messages_ingested_total",
			Help: "取り込んだメッセージの合計数",
		}, []string{"source"}),
		ingestFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_ingest_fail_total",
			Help: "メッセージ取り込み失敗の合計数",
		}, []string{"source"}),
		tokensCounted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_tokens_counted_total",
			Help: "種別ごとに集計したトークンの合計数",
		}, []string{"item_type"}),
		reportsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_reports_generated_total",
			Help: "生成したレポートの合計数",
		}, []string{"trigger"}),
		reportsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_reports_fail_total",
			Help: "レポート生成失敗の合計数",
		}, []string{"trigger"}),
		renderFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_render_fail_total",
			Help: "チャート描画失敗の合計数",
		}, []string{"kind"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_store_errors_total",
			Help: "ストア操作エラーの合計数",
		}, []string{"op"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendbot_query_latency_seconds",
			Help:    "トレンドクエリのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		snapshotRefreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_snapshot_refreshed_total",
			Help: "更新したスナップショットの合計数",
		}, []string{"period"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.messagesIngested,
		c.ingestFail,
		c.tokensCounted,
		c.reportsGenerated,
		c.reportsFail,
		c.renderFail,
		c.storeErrors,
		c.queryLatency,
		c.snapshotRefreshed,
		c.httpStatus,
	)

	return c
}

// RecordMessageIngested はメッセージの取り込み成功を記録する。
func (c *Collector) RecordMessageIngested(source string) {
	c.messagesIngested.WithLabelValues(source).Inc()
}

// RecordIngestFailure はメッセージの取り込み失敗を記録する。
func (c *Collector) RecordIngestFailure(source string) {
	c.ingestFail.WithLabelValues(source).Inc()
}

// RecordTokensCounted は集計したトークン数を記録する。
func (c *Collector) RecordTokensCounted(itemType string, count int) {
	if count <= 0 {
		return
	}
	c.tokensCounted.WithLabelValues(itemType).Add(float64(count))
}

// RecordReportGenerated はレポート生成成功を記録する。
func (c *Collector) RecordReportGenerated(trigger string) {
	c.reportsGenerated.WithLabelValues(trigger).Inc()
}

// RecordReportFailure はレポート生成失敗を記録する。
func (c *Collector) RecordReportFailure(trigger string) {
	c.reportsFail.WithLabelValues(trigger).Inc()
}

// RecordRenderFailure はチャート描画失敗を記録する。
func (c *Collector) RecordRenderFailure(kind string) {
	c.renderFail.WithLabelValues(kind).Inc()
}

// RecordStoreError はストア操作のエラーを記録する。
func (c *Collector) RecordStoreError(op string) {
	c.storeErrors.WithLabelValues(op).Inc()
}

// RecordQueryLatency はクエリのレイテンシを記録する。
func (c *Collector) RecordQueryLatency(op string, duration time.Duration) {
	c.queryLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSnapshotRefreshed はスナップショット更新を記録する。
func (c *Collector) RecordSnapshotRefreshed(period string) {
	c.snapshotRefreshed.WithLabelValues(period).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで利用する。
type Nop struct{}

func (Nop) RecordMessageIngested(string)             {}
func (Nop) RecordIngestFailure(string)               {}
func (Nop) RecordTokensCounted(string, int)          {}
func (Nop) RecordReportGenerated(string)             {}
func (Nop) RecordReportFailure(string)               {}
func (Nop) RecordRenderFailure(string)               {}
func (Nop) RecordStoreError(string)                  {}
func (Nop) RecordQueryLatency(string, time.Duration) {}
func (Nop) RecordSnapshotRefreshed(string)           {}
func (Nop) RecordHTTPStatus(int)                     {}

// Handler はgathererの内容をPrometheusのテキスト形式で公開するハンドラーを返す。
// 収集中のエラーは残りのメトリクスを返したうえでHTTP 500にせず継続する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
