package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily は収集結果から指定名のメトリクスファミリーを返す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounter はラベル値に一致するカウンタ値を返す。
func labeledCounter(mf *dto.MetricFamily, labelValue string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetValue() == labelValue {
				return m.GetCounter().GetValue(), true
			}
		}
	}
	return 0, false
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordMessageIngested_IncrementsCounterPerSource は取り込み元ごとにカウンタが増加することを検証する。
func TestRecordMessageIngested_IncrementsCounterPerSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMessageIngested("http")
	c.RecordMessageIngested("nats")
	c.RecordMessageIngested("nats")

	mf := findFamily(t, reg, "trendbot_messages_ingested_total")
	if v, ok := labeledCounter(mf, "nats"); !ok || v != 2 {
		t.Errorf("messages_ingested_total{source=nats} = %v, want 2", v)
	}
	if v, ok := labeledCounter(mf, "http"); !ok || v != 1 {
		t.Errorf("messages_ingested_total{source=http} = %v, want 1", v)
	}
}

// TestRecordIngestFailure_IncrementsCounter は取り込み失敗カウンタが増加することを検証する。
func TestRecordIngestFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIngestFailure("nats")

	mf := findFamily(t, reg, "trendbot_ingest_fail_total")
	if v, _ := labeledCounter(mf, "nats"); v != 1 {
		t.Errorf("ingest_fail_total = %v, want 1", v)
	}
}

// TestRecordTokensCounted_AddsByType はトークン数が種別ごとに加算されることを検証する。
func TestRecordTokensCounted_AddsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokensCounted("word", 10)
	c.RecordTokensCounted("word", 5)
	c.RecordTokensCounted("emoji", 0)

	mf := findFamily(t, reg, "trendbot_tokens_counted_total")
	if v, _ := labeledCounter(mf, "word"); v != 15 {
		t.Errorf("tokens_counted_total{item_type=word} = %v, want 15", v)
	}
	if _, ok := labeledCounter(mf, "emoji"); ok {
		t.Error("0件の記録ではラベルを生成しないべき")
	}
}

// TestRecordReportOutcome_SeparatesSuccessAndFailure はレポート成功と失敗が別カウンタに記録されることを検証する。
func TestRecordReportOutcome_SeparatesSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReportGenerated("schedule")
	c.RecordReportGenerated("api")
	c.RecordReportFailure("schedule")
	c.RecordRenderFailure("wordcloud")

	if v, _ := labeledCounter(findFamily(t, reg, "trendbot_reports_generated_total"), "schedule"); v != 1 {
		t.Errorf("reports_generated_total{trigger=schedule} = %v, want 1", v)
	}
	if v, _ := labeledCounter(findFamily(t, reg, "trendbot_reports_fail_total"), "schedule"); v != 1 {
		t.Errorf("reports_fail_total{trigger=schedule} = %v, want 1", v)
	}
	if v, _ := labeledCounter(findFamily(t, reg, "trendbot_render_fail_total"), "wordcloud"); v != 1 {
		t.Errorf("render_fail_total{kind=wordcloud} = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(503)

	mf := findFamily(t, reg, "trendbot_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		label := m.GetLabel()[0].GetValue()
		val := m.GetCounter().GetValue()
		switch label {
		case "200":
			if val != 2 {
				t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
			}
		case "503":
			if val != 1 {
				t.Errorf("http_status_total{status_code=503} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

// TestRecordQueryLatency_ObservesHistogram はクエリレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordQueryLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordQueryLatency("top_items", 100*time.Millisecond)
	c.RecordQueryLatency("top_items", 2*time.Second)

	mf := findFamily(t, reg, "trendbot_query_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMessageIngested("http")
	c.RecordStoreError("increment")
	c.RecordSnapshotRefreshed("weekly")
	c.RecordHTTPStatus(200)
	c.RecordQueryLatency("rising_trends", 500*time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"trendbot_messages_ingested_total",
		"trendbot_store_errors_total",
		"trendbot_snapshot_refreshed_total",
		"trendbot_http_status_total",
		"trendbot_query_latency_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorとNopがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = Nop{}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordReportGenerated("api")
	c2.RecordReportGenerated("api")
	c2.RecordReportGenerated("api")

	val1, _ := labeledCounter(findFamily(t, reg1, "trendbot_reports_generated_total"), "api")
	val2, _ := labeledCounter(findFamily(t, reg2, "trendbot_reports_generated_total"), "api")

	if val1 != 1 {
		t.Errorf("reg1 reports_generated = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 reports_generated = %v, want 2", val2)
	}
}

// TestNop_ImplementsCollector はNopがMetricsCollectorを満たし、呼び出しても何もしないことを検証する。
func TestNop_ImplementsCollector(t *testing.T) {
	var c MetricsCollector = Nop{}

	c.RecordMessageIngested("nats")
	c.RecordIngestFailure("http")
	c.RecordTokensCounted("word", 3)
	c.RecordReportGenerated("api")
	c.RecordReportFailure("schedule")
	c.RecordRenderFailure("bar")
	c.RecordStoreError("top_k")
	c.RecordQueryLatency("top_items", time.Millisecond)
	c.RecordSnapshotRefreshed("daily")
	c.RecordHTTPStatus(http.StatusOK)
}

// TestHandler_ContinuesOnGatherError は収集エラーがあっても取得できたメトリクスを返すことを検証する。
func TestHandler_ContinuesOnGatherError(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordMessageIngested("http")

	gatherer := prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		families, err := reg.Gather()
		if err != nil {
			return nil, err
		}
		return families, errors.New("collector failed")
	})

	w := httptest.NewRecorder()
	Handler(gatherer).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "trendbot_messages_ingested_total") {
		t.Errorf("body should still contain gathered metrics:\n%s", w.Body.String())
	}
}
