package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// PostgresCounterRepo はPostgreSQLを使用したカウンタリポジトリ。
// 加算は INSERT ... ON CONFLICT DO UPDATE によるアトミックなアップサートで行う。
type PostgresCounterRepo struct {
	db *sql.DB
}

// NewPostgresCounterRepo はPostgresCounterRepoを生成する。
func NewPostgresCounterRepo(db *sql.DB) *PostgresCounterRepo {
	return &PostgresCounterRepo{db: db}
}

const upsertCounterSQL = `INSERT INTO counters (scope_id, item_type, token, bucket_date, count)
	 VALUES ($1, $2, $3, $4::date, $5)
	 ON CONFLICT (scope_id, item_type, token, bucket_date)
	 DO UPDATE SET count = counters.count + EXCLUDED.count`

// Increment はカウンタにbyを加算する。
func (r *PostgresCounterRepo) Increment(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, date time.Time, by int64) error {
	_, err := r.db.ExecContext(ctx, upsertCounterSQL,
		string(scope), string(itemType), token, model.FormatDate(date), by,
	)
	if err != nil {
		return model.NewStoreError("カウンタの加算に失敗しました", err)
	}
	return nil
}

// IncrementBatch は複数の加算を1トランザクションで適用する。
func (r *PostgresCounterRepo) IncrementBatch(ctx context.Context, incs []model.Increment) error {
	if len(incs) == 0 {
		return nil
	}
	merged := MergeIncrements(incs)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStoreError("トランザクションの開始に失敗しました", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCounterSQL)
	if err != nil {
		return model.NewStoreError("カウンタ加算文の準備に失敗しました", err)
	}
	defer stmt.Close()

	for _, inc := range merged {
		k := inc.Key
		if _, err := stmt.ExecContext(ctx, string(k.Scope), string(k.Type), k.Token, model.FormatDate(k.Date), inc.By); err != nil {
			return model.NewStoreError("カウンタの一括加算に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStoreError("トランザクションのコミットに失敗しました", err)
	}
	return nil
}

// TopK は期間内の合計カウントの上位k件を返す。
func (r *PostgresCounterRepo) TopK(ctx context.Context, scope model.ScopeID, itemType model.ItemType, dr model.DateRange, k int) ([]model.RankedItem, error) {
	where, args := counterFilter(scope, itemType, dr)
	args = append(args, k)
	query := fmt.Sprintf(
		`SELECT token, SUM(count) AS total FROM counters WHERE %s
		 GROUP BY token ORDER BY total DESC, token COLLATE "C" ASC LIMIT $%d`,
		where, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStoreError("ランキングの取得に失敗しました", err)
	}
	defer rows.Close()

	items := []model.RankedItem{}
	for rows.Next() {
		var item model.RankedItem
		if err := rows.Scan(&item.Token, &item.Count); err != nil {
			return nil, model.NewStoreError("ランキング行の読み取りに失敗しました", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("ランキングの走査に失敗しました", err)
	}
	return items, nil
}

// RangeTotals は期間内のトークンごとの合計カウントを返す。
func (r *PostgresCounterRepo) RangeTotals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, dr model.DateRange) (map[string]int64, error) {
	where, args := counterFilter(scope, itemType, dr)
	query := `SELECT token, SUM(count) FROM counters WHERE ` + where + ` GROUP BY token`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStoreError("期間集計の取得に失敗しました", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var token string
		var total int64
		if err := rows.Scan(&token, &total); err != nil {
			return nil, model.NewStoreError("期間集計行の読み取りに失敗しました", err)
		}
		totals[token] = total
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("期間集計の走査に失敗しました", err)
	}
	return totals, nil
}

// Series は1トークンの日別カウントを日付の昇順で返す。
func (r *PostgresCounterRepo) Series(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, dr model.DateRange) ([]model.DailyCount, error) {
	where, args := counterFilter(scope, itemType, dr)
	args = append(args, token)
	query := fmt.Sprintf(
		`SELECT bucket_date, SUM(count) FROM counters WHERE %s AND token = $%d
		 GROUP BY bucket_date ORDER BY bucket_date ASC`,
		where, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStoreError("日別推移の取得に失敗しました", err)
	}
	defer rows.Close()

	series := []model.DailyCount{}
	for rows.Next() {
		var dc model.DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, model.NewStoreError("日別推移行の読み取りに失敗しました", err)
		}
		dc.Date = toDate(dc.Date)
		series = append(series, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("日別推移の走査に失敗しました", err)
	}
	return series, nil
}

// DeleteBefore はdateより前のバケットを削除する。
func (r *PostgresCounterRepo) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM counters WHERE bucket_date < $1::date`,
		model.FormatDate(date),
	)
	if err != nil {
		return 0, model.NewStoreError("古いカウンタの削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStoreError("削除件数の取得に失敗しました", err)
	}
	return n, nil
}

// counterFilter はスコープ・種別・期間の条件句とバインド引数を組み立てる。
// グローバルスコープではスコープ条件を、全期間では日付条件を付けない。
func counterFilter(scope model.ScopeID, itemType model.ItemType, dr model.DateRange) (string, []any) {
	conds := []string{"item_type = $1"}
	args := []any{string(itemType)}

	if !scope.IsGlobal() {
		args = append(args, string(scope))
		conds = append(conds, fmt.Sprintf("scope_id = $%d", len(args)))
	}
	if !dr.Start.IsZero() {
		args = append(args, model.FormatDate(dr.Start))
		conds = append(conds, fmt.Sprintf("bucket_date >= $%d::date", len(args)))
	}
	if !dr.End.IsZero() {
		args = append(args, model.FormatDate(dr.End))
		conds = append(conds, fmt.Sprintf("bucket_date <= $%d::date", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// MergeIncrements は同一キーの加算をまとめ、キーの昇順に並べて返す。
func MergeIncrements(incs []model.Increment) []model.Increment {
	sums := make(map[model.CounterKey]int64, len(incs))
	for _, inc := range incs {
		key := inc.Key
		key.Date = toDate(key.Date)
		sums[key] += inc.By
	}

	merged := make([]model.Increment, 0, len(sums))
	for key, by := range sums {
		merged = append(merged, model.Increment{Key: key, By: by})
	}
	slices.SortFunc(merged, func(a, b model.Increment) int {
		return compareKeys(a.Key, b.Key)
	})
	return merged
}

func compareKeys(a, b model.CounterKey) int {
	if c := strings.Compare(string(a.Scope), string(b.Scope)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Token, b.Token); c != 0 {
		return c
	}
	return a.Date.Compare(b.Date)
}
