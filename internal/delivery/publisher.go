package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/report"
)

// 配信先のサブジェクト
const (
	ReportSubjectPrefix = "trendbot.reports."
	TrackSubjectPrefix  = "trendbot.tracks."
)

// 配信メッセージの種別
const (
	KindReport = "report"
	KindTrack  = "track"
)

// Publisher はメッセージバスへの送信インターフェース。
// *nats.Conn はこのインターフェースを満たす。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope はチャット側のボットが受け取る配信メッセージ。
// Text はそのまま投稿できる整形済み本文で、画像はbase64で含まれる。
type Envelope struct {
	Kind        string             `json:"kind"`
	Scope       string             `json:"scope_id"`
	Text        string             `json:"text"`
	Report      *model.Report      `json:"report,omitempty"`
	TrackReport *model.TrackReport `json:"track_report,omitempty"`
}

// Deliverer はレポートを整形して配信する。
type Deliverer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewDeliverer はDelivererを生成する。
func NewDeliverer(publisher Publisher, logger *slog.Logger) *Deliverer {
	return &Deliverer{publisher: publisher, logger: logger}
}

// Deliver はレポートをスコープのサブジェクトへ配信する。
func (d *Deliverer) Deliver(ctx context.Context, rep *model.Report) error {
	env := Envelope{
		Kind:   KindReport,
		Scope:  rep.Scope.Param(),
		Text:   report.FormatText(rep),
		Report: rep,
	}
	return d.publish(ctx, ReportSubjectPrefix+rep.Scope.Param(), env, rep.ID)
}

// DeliverTrack は追跡レポートをユーザーのサブジェクトへ配信する。
func (d *Deliverer) DeliverTrack(ctx context.Context, rep *model.TrackReport) error {
	env := Envelope{
		Kind:        KindTrack,
		Scope:       rep.Scope.Param(),
		Text:        report.FormatTrackText(rep),
		TrackReport: rep,
	}
	return d.publish(ctx, TrackSubjectPrefix+rep.UserID, env, rep.ID)
}

func (d *Deliverer) publish(ctx context.Context, subject string, env Envelope, reportID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("配信メッセージのエンコードに失敗しました: %w", err)
	}
	if err := d.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("レポートの配信に失敗しました (subject=%s): %w", subject, err)
	}

	d.logger.Info("レポートを配信しました",
		slog.String("subject", subject),
		slog.String("report_id", reportID),
		slog.Int("size", len(data)),
	)
	return nil
}
