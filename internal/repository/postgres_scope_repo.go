package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/trendbot/internal/model"
)

// PostgresScopeRepo はPostgreSQLを使用したスコープリポジトリ。
type PostgresScopeRepo struct {
	db       *sql.DB
	defaults model.ScopeSettings
}

// NewPostgresScopeRepo はPostgresScopeRepoを生成する。
// defaultsは新規スコープ登録時に作成する設定の既定値。
func NewPostgresScopeRepo(db *sql.DB, defaults model.ScopeSettings) *PostgresScopeRepo {
	return &PostgresScopeRepo{db: db, defaults: defaults}
}

// Register はスコープを登録し、未作成であれば既定値の設定を同一トランザクションで作成する。
// 既存スコープの場合はタイトルのみ更新する。
func (r *PostgresScopeRepo) Register(ctx context.Context, scope model.Scope) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, model.NewStoreError("トランザクションの開始に失敗しました", err)
	}
	defer tx.Rollback()

	// xmax = 0 は今回のINSERTで作成された行であることを示す
	var created bool
	err = tx.QueryRowContext(ctx,
		`INSERT INTO scopes (id, title) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET title = CASE WHEN EXCLUDED.title = '' THEN scopes.title ELSE EXCLUDED.title END,
		     updated_at = CASE WHEN EXCLUDED.title = '' OR EXCLUDED.title = scopes.title
		                       THEN scopes.updated_at ELSE now() END
		 RETURNING (xmax = 0)`,
		string(scope.ID), scope.Title,
	).Scan(&created)
	if err != nil {
		return false, model.NewStoreError("スコープの登録に失敗しました", err)
	}

	d := r.defaults
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scope_settings
		   (scope_id, min_word_length, max_items, exclude_common,
		    auto_report_enabled, auto_report_time, auto_report_frequency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (scope_id) DO NOTHING`,
		string(scope.ID), d.MinWordLength, d.MaxItems, d.ExcludeCommon,
		d.AutoReportEnabled, d.AutoReportTime, string(d.AutoReportFrequency),
	)
	if err != nil {
		return false, model.NewStoreError("スコープ設定の作成に失敗しました", err)
	}

	if err := tx.Commit(); err != nil {
		return false, model.NewStoreError("トランザクションのコミットに失敗しました", err)
	}
	return created, nil
}

// Get は指定IDのスコープを取得する。見つからない場合はnilを返す。
func (r *PostgresScopeRepo) Get(ctx context.Context, id model.ScopeID) (*model.Scope, error) {
	scope := &model.Scope{}
	var scopeID string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM scopes WHERE id = $1`,
		string(id),
	).Scan(&scopeID, &scope.Title, &scope.CreatedAt, &scope.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("スコープの取得に失敗しました", err)
	}
	scope.ID = model.ScopeID(scopeID)
	return scope, nil
}

// List は登録済みの全スコープをID順に返す。
func (r *PostgresScopeRepo) List(ctx context.Context) ([]model.Scope, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM scopes ORDER BY id ASC`,
	)
	if err != nil {
		return nil, model.NewStoreError("スコープ一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	scopes := []model.Scope{}
	for rows.Next() {
		var s model.Scope
		var id string
		if err := rows.Scan(&id, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, model.NewStoreError("スコープ行の読み取りに失敗しました", err)
		}
		s.ID = model.ScopeID(id)
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("スコープ一覧の走査に失敗しました", err)
	}
	return scopes, nil
}

// PostgresSettingsRepo はPostgreSQLを使用したスコープ設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// Get は指定スコープの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingsRepo) Get(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error) {
	s := &model.ScopeSettings{Scope: scope}
	var freq string
	err := r.db.QueryRowContext(ctx,
		`SELECT min_word_length, max_items, exclude_common,
		        auto_report_enabled, auto_report_time, auto_report_frequency, updated_at
		 FROM scope_settings WHERE scope_id = $1`,
		string(scope),
	).Scan(&s.MinWordLength, &s.MaxItems, &s.ExcludeCommon,
		&s.AutoReportEnabled, &s.AutoReportTime, &freq, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("スコープ設定の取得に失敗しました", err)
	}
	s.AutoReportFrequency = model.ReportFrequency(freq)
	return s, nil
}

// Update は設定を部分更新する。nilのフィールドは既存の値を維持する。
func (r *PostgresSettingsRepo) Update(ctx context.Context, scope model.ScopeID, patch model.SettingsPatch) (bool, error) {
	var freq sql.NullString
	if patch.AutoReportFrequency != nil {
		freq = sql.NullString{String: string(*patch.AutoReportFrequency), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE scope_settings SET
		   min_word_length       = COALESCE($2, min_word_length),
		   max_items             = COALESCE($3, max_items),
		   exclude_common        = COALESCE($4, exclude_common),
		   auto_report_enabled   = COALESCE($5, auto_report_enabled),
		   auto_report_time      = COALESCE($6, auto_report_time),
		   auto_report_frequency = COALESCE($7, auto_report_frequency),
		   updated_at            = now()
		 WHERE scope_id = $1`,
		string(scope),
		nullInt(patch.MinWordLength), nullInt(patch.MaxItems),
		nullBool(patch.ExcludeCommon), nullBool(patch.AutoReportEnabled),
		nullString(patch.AutoReportTime), freq,
	)
	if err != nil {
		return false, model.NewStoreError("スコープ設定の更新に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, model.NewStoreError("更新件数の取得に失敗しました", err)
	}
	return n > 0, nil
}

// ListAutoReports は自動レポートが有効なスコープの配信設定を返す。
func (r *PostgresSettingsRepo) ListAutoReports(ctx context.Context) ([]model.AutoReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT scope_id, auto_report_time, auto_report_frequency, max_items
		 FROM scope_settings WHERE auto_report_enabled = true
		 ORDER BY scope_id ASC`,
	)
	if err != nil {
		return nil, model.NewStoreError("自動レポート設定の取得に失敗しました", err)
	}
	defer rows.Close()

	reports := []model.AutoReport{}
	for rows.Next() {
		var ar model.AutoReport
		var scope, freq string
		if err := rows.Scan(&scope, &ar.Time, &freq, &ar.MaxItems); err != nil {
			return nil, model.NewStoreError("自動レポート設定行の読み取りに失敗しました", err)
		}
		ar.Scope = model.ScopeID(scope)
		ar.Frequency = model.ReportFrequency(freq)
		reports = append(reports, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("自動レポート設定の走査に失敗しました", err)
	}
	return reports, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
