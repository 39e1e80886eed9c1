package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/model"
)

// メッセージ取り込みの既定値
const (
	DefaultSubject    = "trendbot.messages"
	DefaultQueueGroup = "trendbot-ingest"

	sourceNATS = "nats"
)

// Subscription はサブスクリプションの停止に必要な操作。
type Subscription interface {
	Drain() error
	IsValid() bool
}

// Subscriber はキューグループ購読を行うインターフェース。
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(data []byte)) (Subscription, error)
}

// NATSSubscriber は *nats.Conn を Subscriber として扱うアダプタ。
type NATSSubscriber struct {
	Conn *nats.Conn
}

// QueueSubscribe はNATSのキューグループ購読を開始する。
func (s NATSSubscriber) QueueSubscribe(subject, queue string, handler func(data []byte)) (Subscription, error) {
	sub, err := s.Conn.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// MessageIngester はメッセージを取り込むサービスのインターフェース。
type MessageIngester interface {
	Ingest(ctx context.Context, msg model.Message) (*Result, error)
}

// ConsumerConfig はNATSコンシューマの設定。
type ConsumerConfig struct {
	Subject    string
	QueueGroup string
	// Concurrency は同じキューグループ内の購読数。各購読は受信順に1件ずつ処理する。
	Concurrency int
	// Timeout は1メッセージの取り込みにかける最大時間。
	Timeout time.Duration
}

// Consumer はNATSからメッセージを受信して取り込むコンシューマ。
type Consumer struct {
	subscriber Subscriber
	ingester   MessageIngester
	cfg        ConsumerConfig
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	subs       []Subscription
}

// NewConsumer はConsumerを生成する。
func NewConsumer(subscriber Subscriber, ingester MessageIngester, cfg ConsumerConfig, logger *slog.Logger, collector metrics.MetricsCollector) *Consumer {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Consumer{
		subscriber: subscriber,
		ingester:   ingester,
		cfg:        cfg,
		logger:     logger,
		metrics:    collector,
	}
}

// Start は購読を開始する。途中で失敗した場合は開始済みの購読を停止する。
func (c *Consumer) Start() error {
	for i := 0; i < c.cfg.Concurrency; i++ {
		sub, err := c.subscriber.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.handle)
		if err != nil {
			for _, s := range c.subs {
				_ = s.Drain()
			}
			c.subs = nil
			return fmt.Errorf("NATSの購読に失敗しました (subject=%s): %w", c.cfg.Subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.logger.Info("メッセージの購読を開始しました",
		slog.String("subject", c.cfg.Subject),
		slog.String("queue", c.cfg.QueueGroup),
		slog.Int("concurrency", c.cfg.Concurrency),
	)
	return nil
}

// handle は1件のメッセージを処理する。
// 不正なメッセージは再配信しても成功しないため、ログに記録して破棄する。
func (c *Consumer) handle(data []byte) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.metrics.RecordIngestFailure(sourceNATS)
		c.logger.Warn("メッセージのデコードに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("size", len(data)),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	if _, err := c.ingester.Ingest(ctx, msg); err != nil {
		c.metrics.RecordIngestFailure(sourceNATS)
		level := slog.LevelError
		var apiErr *model.APIError
		if errors.As(err, &apiErr) || errors.Is(err, ErrClosed) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "メッセージの取り込みに失敗しました",
			slog.String("scope", string(msg.Scope)),
			slog.String("error", err.Error()),
		)
		return
	}
	c.metrics.RecordMessageIngested(sourceNATS)
}

// Stop は全購読をドレインし、処理中のメッセージが完了するかctxが終了するまで待つ。
func (c *Consumer) Stop(ctx context.Context) error {
	var errs []error
	for _, s := range c.subs {
		if err := s.Drain(); err != nil {
			errs = append(errs, err)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for _, s := range c.subs {
		for s.IsValid() {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-ticker.C:
			}
		}
	}
	c.subs = nil

	c.logger.Info("メッセージの購読を停止しました")
	return errors.Join(errs...)
}
