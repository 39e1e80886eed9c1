// Package ingest はチャットメッセージを取り込み、トークンごとの日次カウンタに加算する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
	"github.com/hitoshi/trendbot/internal/tokenize"
)

// ErrClosed はシャットダウン開始後に取り込みが要求された場合のエラー。
var ErrClosed = errors.New("ingestor is closed")

// Result は1メッセージの取り込み結果。
type Result struct {
	Scope      model.ScopeID `json:"scope_id"`
	Date       time.Time     `json:"date"`
	Tokens     model.Tokens  `json:"tokens"`
	Increments int           `json:"increments"`
}

// Ingestor はメッセージの取り込みサービス。
// スコープを登録してから加算するため、カウンタ行を持つスコープには必ず設定が存在する。
type Ingestor struct {
	scopes    repository.ScopeRepository
	settings  repository.SettingsRepository
	counters  repository.CounterRepository
	tokenizer *tokenize.Tokenizer
	markup    *tokenize.MarkupStripper
	loc       *time.Location
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time

	// registered は登録済みスコープのタイトル。タイトルが変わった場合のみ再登録する。
	registered sync.Map

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option はIngestorの任意設定を表す。
type Option func(*Ingestor)

// WithMetrics はトークン集計数を記録するコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor はIngestorの新しいインスタンスを生成する。
// locは日次バケットを決めるタイムゾーン。nilの場合はUTCを使用する。
func NewIngestor(
	scopes repository.ScopeRepository,
	settings repository.SettingsRepository,
	counters repository.CounterRepository,
	tokenizer *tokenize.Tokenizer,
	loc *time.Location,
	logger *slog.Logger,
	opts ...Option,
) *Ingestor {
	if loc == nil {
		loc = time.UTC
	}
	i := &Ingestor{
		scopes:    scopes,
		settings:  settings,
		counters:  counters,
		tokenizer: tokenizer,
		markup:    tokenize.NewMarkupStripper(),
		loc:       loc,
		logger:    logger,
		metrics:   metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest はメッセージからトークンを抽出し、メッセージ時刻の日付バケットに加算する。
// 同じメッセージ内で同じトークンが複数回出現した場合は出現数ぶんを1回の加算にまとめる。
func (i *Ingestor) Ingest(ctx context.Context, msg model.Message) (*Result, error) {
	if !i.begin() {
		return nil, ErrClosed
	}
	defer i.inflight.Done()

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	text := msg.Text
	if msg.Format == model.FormatHTML {
		text = i.markup.Strip(text)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = i.now()
	}
	date := model.DateOf(ts, i.loc)

	if err := i.register(ctx, msg.Scope, msg.ScopeTitle); err != nil {
		return nil, err
	}

	settings, err := i.settings.Get(ctx, msg.Scope)
	if err != nil {
		return nil, fmt.Errorf("スコープ設定の取得に失敗しました: %w", err)
	}
	if settings == nil {
		def := model.DefaultScopeSettings(msg.Scope)
		settings = &def
	}

	tokens := i.tokenizer.Extract(text, tokenize.OptionsFrom(*settings))
	incs := make([]model.Increment, 0, tokens.Len())
	for _, itemType := range model.AllItemTypes() {
		for _, token := range tokens.ByType(itemType) {
			incs = append(incs, model.Increment{
				Key: model.CounterKey{Scope: msg.Scope, Type: itemType, Token: token, Date: date},
				By:  1,
			})
		}
	}
	incs = repository.MergeIncrements(incs)

	if len(incs) > 0 {
		if err := i.counters.IncrementBatch(ctx, incs); err != nil {
			i.metrics.RecordStoreError("increment")
			return nil, fmt.Errorf("カウンタの加算に失敗しました: %w", err)
		}
	}
	for _, itemType := range model.AllItemTypes() {
		i.metrics.RecordTokensCounted(string(itemType), len(tokens.ByType(itemType)))
	}

	i.logger.Debug("メッセージを取り込みました",
		slog.String("scope", string(msg.Scope)),
		slog.String("date", model.FormatDate(date)),
		slog.Int("tokens", tokens.Len()),
	)

	return &Result{Scope: msg.Scope, Date: date, Tokens: tokens, Increments: len(incs)}, nil
}

// register はスコープを登録する。同じタイトルで登録済みの場合はストアにアクセスしない。
func (i *Ingestor) register(ctx context.Context, scope model.ScopeID, title string) error {
	if known, ok := i.registered.Load(scope); ok && (title == "" || known.(string) == title) {
		return nil
	}
	created, err := i.scopes.Register(ctx, model.Scope{ID: scope, Title: title})
	if err != nil {
		i.metrics.RecordStoreError("register_scope")
		return fmt.Errorf("スコープの登録に失敗しました: %w", err)
	}
	if created {
		i.logger.Info("新しいスコープを登録しました",
			slog.String("scope", string(scope)),
			slog.String("title", title),
		)
	}
	i.registered.Store(scope, title)
	return nil
}

func (i *Ingestor) begin() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}
	i.inflight.Add(1)
	return true
}

// Close は新しい取り込みの受け付けを停止し、処理中の取り込みの完了を待つ。
// ctxが先に終了した場合はctxのエラーを返す。
func (i *Ingestor) Close(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		i.logger.Info("処理中の取り込みがすべて完了しました")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
