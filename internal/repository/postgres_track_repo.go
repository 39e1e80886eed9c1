package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/trendbot/internal/model"
)

// PostgresTrackRepo はPostgreSQLを使用した追跡リストリポジトリ。
type PostgresTrackRepo struct {
	db *sql.DB
}

// NewPostgresTrackRepo はPostgresTrackRepoを生成する。
func NewPostgresTrackRepo(db *sql.DB) *PostgresTrackRepo {
	return &PostgresTrackRepo{db: db}
}

// Add は追跡対象を追加する。既に存在する場合はfalseを返す。
func (r *PostgresTrackRepo) Add(ctx context.Context, sub model.TrackSubscription) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO track_subscriptions (user_id, item_type, token, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, item_type, token) DO NOTHING`,
		sub.UserID, string(sub.Type), sub.Token, sub.CreatedAt,
	)
	if err != nil {
		return false, model.NewStoreError("追跡対象の追加に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, model.NewStoreError("追加件数の取得に失敗しました", err)
	}
	return n > 0, nil
}

// Remove は追跡対象を削除する。存在しなかった場合はfalseを返す。
func (r *PostgresTrackRepo) Remove(ctx context.Context, userID string, itemType model.ItemType, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM track_subscriptions WHERE user_id = $1 AND item_type = $2 AND token = $3`,
		userID, string(itemType), token,
	)
	if err != nil {
		return false, model.NewStoreError("追跡対象の削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, model.NewStoreError("削除件数の取得に失敗しました", err)
	}
	return n > 0, nil
}

// ListByUser はユーザーの追跡対象を作成日時の昇順で返す。
func (r *PostgresTrackRepo) ListByUser(ctx context.Context, userID string) ([]model.TrackSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, item_type, token, created_at FROM track_subscriptions
		 WHERE user_id = $1 ORDER BY created_at ASC, item_type ASC, token ASC`,
		userID,
	)
	if err != nil {
		return nil, model.NewStoreError("追跡リストの取得に失敗しました", err)
	}
	defer rows.Close()

	subs := []model.TrackSubscription{}
	for rows.Next() {
		var sub model.TrackSubscription
		var itemType string
		if err := rows.Scan(&sub.UserID, &itemType, &sub.Token, &sub.CreatedAt); err != nil {
			return nil, model.NewStoreError("追跡リスト行の読み取りに失敗しました", err)
		}
		sub.Type = model.ItemType(itemType)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("追跡リストの走査に失敗しました", err)
	}
	return subs, nil
}
