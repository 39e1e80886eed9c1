package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/trendbot/internal/ingest"
	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/model"
)

// sourceHTTP はHTTP経由の取り込みを表すメトリクスラベル。
const sourceHTTP = "http"

// Ingester はメッセージ取り込みのインターフェース。
type Ingester interface {
	Ingest(ctx context.Context, msg model.Message) (*ingest.Result, error)
}

// MessageHandler はメッセージ取り込みAPIのHTTPハンドラー。
type MessageHandler struct {
	ingester Ingester
	metrics  metrics.MetricsCollector
}

// NewMessageHandler は新しいMessageHandlerを生成する。collectorがnilの場合は記録しない。
func NewMessageHandler(ingester Ingester, collector metrics.MetricsCollector) *MessageHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &MessageHandler{ingester: ingester, metrics: collector}
}

// Ingest はPOST /api/messages を処理する。
// 取り込みに成功した場合は202 Acceptedで抽出結果を返す。
func (h *MessageHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if !decodeJSON(w, r, &msg) {
		h.metrics.RecordIngestFailure(sourceHTTP)
		return
	}

	result, err := h.ingester.Ingest(r.Context(), msg)
	if err != nil {
		h.metrics.RecordIngestFailure(sourceHTTP)
		handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordMessageIngested(sourceHTTP)
	writeJSON(w, http.StatusAccepted, result)
}
