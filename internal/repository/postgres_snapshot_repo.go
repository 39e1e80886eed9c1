package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// Replace は (scope, period, date) の既存行を削除してから新しい行を挿入する。
// 同じキーで何度実行しても結果は1回分の行だけになる。
// 計算済みであることはtrend_snapshot_runsに記録し、行が0件でも区別できるようにする。
func (r *PostgresSnapshotRepo) Replace(ctx context.Context, snap model.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStoreError("トランザクションの開始に失敗しました", err)
	}
	defer tx.Rollback()

	date := model.FormatDate(snap.Date)
	_, err = tx.ExecContext(ctx,
		`DELETE FROM trend_snapshots WHERE scope_id = $1 AND period = $2 AND snapshot_date = $3::date`,
		string(snap.Scope), snap.Period.String(), date,
	)
	if err != nil {
		return model.NewStoreError("既存スナップショットの削除に失敗しました", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO trend_snapshot_runs (scope_id, period, snapshot_date, refreshed_at)
		 VALUES ($1, $2, $3::date, $4)
		 ON CONFLICT (scope_id, period, snapshot_date) DO UPDATE SET refreshed_at = EXCLUDED.refreshed_at`,
		string(snap.Scope), snap.Period.String(), date, snap.RefreshedAt,
	)
	if err != nil {
		return model.NewStoreError("スナップショット計算記録の保存に失敗しました", err)
	}

	if len(snap.Rows) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO trend_snapshots
			   (scope_id, period, snapshot_date, item_type, rank, token, count, refreshed_at)
			 VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)`,
		)
		if err != nil {
			return model.NewStoreError("スナップショット挿入文の準備に失敗しました", err)
		}
		defer stmt.Close()

		for _, row := range snap.Rows {
			_, err := stmt.ExecContext(ctx,
				string(snap.Scope), snap.Period.String(), date,
				string(row.Type), row.Rank, row.Token, row.Count, snap.RefreshedAt,
			)
			if err != nil {
				return model.NewStoreError("スナップショットの挿入に失敗しました", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStoreError("トランザクションのコミットに失敗しました", err)
	}
	return nil
}

// Get は (scope, period, date) のスナップショットを取得する。
// 一度も計算されていない場合はnilを返し、計算済みで行がない場合は空のRowsを返す。
func (r *PostgresSnapshotRepo) Get(ctx context.Context, scope model.ScopeID, period model.Period, date time.Time) (*model.Snapshot, error) {
	snap := &model.Snapshot{Scope: scope, Period: period, Date: toDate(date), Rows: []model.SnapshotRow{}}

	err := r.db.QueryRowContext(ctx,
		`SELECT refreshed_at FROM trend_snapshot_runs
		 WHERE scope_id = $1 AND period = $2 AND snapshot_date = $3::date`,
		string(scope), period.String(), model.FormatDate(date),
	).Scan(&snap.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("スナップショット計算記録の取得に失敗しました", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT item_type, rank, token, count FROM trend_snapshots
		 WHERE scope_id = $1 AND period = $2 AND snapshot_date = $3::date
		 ORDER BY item_type ASC, rank ASC`,
		string(scope), period.String(), model.FormatDate(date),
	)
	if err != nil {
		return nil, model.NewStoreError("スナップショットの取得に失敗しました", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row model.SnapshotRow
		var itemType string
		if err := rows.Scan(&itemType, &row.Rank, &row.Token, &row.Count); err != nil {
			return nil, model.NewStoreError("スナップショット行の読み取りに失敗しました", err)
		}
		row.Type = model.ItemType(itemType)
		snap.Rows = append(snap.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("スナップショットの走査に失敗しました", err)
	}
	return snap, nil
}

// DeleteBefore はdateより前のスナップショットと計算記録を削除する。
// 削除件数はスナップショットの行単位で数える。
func (r *PostgresSnapshotRepo) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, model.NewStoreError("トランザクションの開始に失敗しました", err)
	}
	defer tx.Rollback()

	cutoff := model.FormatDate(date)
	result, err := tx.ExecContext(ctx,
		`DELETE FROM trend_snapshots WHERE snapshot_date < $1::date`,
		cutoff,
	)
	if err != nil {
		return 0, model.NewStoreError("古いスナップショットの削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStoreError("削除件数の取得に失敗しました", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM trend_snapshot_runs WHERE snapshot_date < $1::date`,
		cutoff,
	); err != nil {
		return 0, model.NewStoreError("古いスナップショット計算記録の削除に失敗しました", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, model.NewStoreError("トランザクションのコミットに失敗しました", err)
	}
	return n, nil
}
