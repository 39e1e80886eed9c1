package trend

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
)

// --- テスト用モック ---

// mockCounterRepo はCounterRepositoryのテスト用モック。
type mockCounterRepo struct {
	calls         int
	topKFn        func(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error)
	rangeTotalsFn func(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange) (map[string]int64, error)
}

func (m *mockCounterRepo) Increment(context.Context, model.ScopeID, model.ItemType, string, time.Time, int64) error {
	m.calls++
	return nil
}

func (m *mockCounterRepo) IncrementBatch(context.Context, []model.Increment) error {
	m.calls++
	return nil
}

func (m *mockCounterRepo) TopK(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error) {
	m.calls++
	if m.topKFn != nil {
		return m.topKFn(ctx, scope, itemType, r, k)
	}
	return []model.RankedItem{}, nil
}

func (m *mockCounterRepo) RangeTotals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange) (map[string]int64, error) {
	m.calls++
	if m.rangeTotalsFn != nil {
		return m.rangeTotalsFn(ctx, scope, itemType, r)
	}
	return map[string]int64{}, nil
}

func (m *mockCounterRepo) Series(context.Context, model.ScopeID, model.ItemType, string, model.DateRange) ([]model.DailyCount, error) {
	m.calls++
	return []model.DailyCount{}, nil
}

func (m *mockCounterRepo) DeleteBefore(context.Context, time.Time) (int64, error) {
	m.calls++
	return 0, nil
}

// 2024-03-10 22:30 UTC はイスタンブール（UTC+3）では 2024-03-11 01:30。
var fixedNow = time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)

func istanbul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Skipf("タイムゾーン情報を読み込めません: %v", err)
	}
	return loc
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, counters repository.CounterRepository) (*Engine, *repository.MemorySnapshotRepo) {
	t.Helper()
	snaps := repository.NewMemorySnapshotRepo()
	return NewEngine(counters, snaps, istanbul(t), WithClock(func() time.Time { return fixedNow })), snaps
}

func TestResolvePeriod(t *testing.T) {
	e, _ := newTestEngine(t, repository.NewMemoryCounterRepo())
	today := date(2024, 3, 11)

	tests := []struct {
		name   string
		period model.Period
		want   model.DateRange
	}{
		{"日次は今日のみ", model.Daily, model.DateRange{Start: today, End: today}},
		{"週次は直近7日", model.Weekly, model.DateRange{Start: date(2024, 3, 5), End: today}},
		{"月次は直近30日", model.Monthly, model.DateRange{Start: date(2024, 2, 11), End: today}},
		{"カスタム14日", model.CustomPeriod(14), model.DateRange{Start: date(2024, 2, 27), End: today}},
		{"カスタム1日", model.CustomPeriod(1), model.DateRange{Start: today, End: today}},
		{"全期間は上下限なし", model.AllTime, model.DateRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ResolvePeriod(tt.period)
			if err != nil {
				t.Fatalf("ResolvePeriod: %v", err)
			}
			if !got.Start.Equal(tt.want.Start) || !got.End.Equal(tt.want.End) {
				t.Errorf("ResolvePeriod(%s) = %s..%s, want %s..%s", tt.period,
					model.FormatDate(got.Start), model.FormatDate(got.End),
					model.FormatDate(tt.want.Start), model.FormatDate(tt.want.End))
			}
		})
	}
}

func TestResolvePeriod_RejectsCustomOutOfBounds(t *testing.T) {
	e, _ := newTestEngine(t, repository.NewMemoryCounterRepo())

	for _, days := range []int{0, 91, -3} {
		_, err := e.ResolvePeriod(model.CustomPeriod(days))
		if !model.IsValidation(err) {
			t.Errorf("custom:%d err = %v, want validation error", days, err)
		}
	}
}

func TestPreviousRange(t *testing.T) {
	prev, err := PreviousRange(model.DateRange{Start: date(2024, 3, 5), End: date(2024, 3, 11)})
	if err != nil {
		t.Fatalf("PreviousRange: %v", err)
	}
	if !prev.Start.Equal(date(2024, 2, 27)) || !prev.End.Equal(date(2024, 3, 4)) {
		t.Errorf("PreviousRange = %s..%s, want 2024-02-27..2024-03-04",
			model.FormatDate(prev.Start), model.FormatDate(prev.End))
	}

	if _, err := PreviousRange(model.DateRange{}); !model.IsValidation(err) {
		t.Errorf("全期間のPreviousRange err = %v, want validation error", err)
	}
}

func TestTopItems_ValidatesBeforeStoreAccess(t *testing.T) {
	mock := &mockCounterRepo{}
	e, _ := newTestEngine(t, mock)
	ctx := context.Background()

	cases := []struct {
		name     string
		itemType model.ItemType
		period   model.Period
		k        int
	}{
		{"k=0", model.ItemTypeWord, model.Daily, 0},
		{"k=101", model.ItemTypeWord, model.Daily, 101},
		{"未知の種別", model.ItemType("sticker"), model.Daily, 10},
		{"不正な期間", model.ItemTypeWord, model.CustomPeriod(120), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.TopItems(ctx, "g1", tc.itemType, tc.period, tc.k)
			if !model.IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
	if mock.calls != 0 {
		t.Errorf("検証エラー時にストアへ %d 回アクセスした", mock.calls)
	}
}

func TestTopItems_ReadsFromStore(t *testing.T) {
	counters := repository.NewMemoryCounterRepo()
	e, _ := newTestEngine(t, counters)
	ctx := context.Background()
	today := date(2024, 3, 11)

	for token, n := range map[string]int64{"a": 3, "b": 3, "c": 5} {
		if err := counters.Increment(ctx, "g1", model.ItemTypeWord, token, today, n); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	// 範囲外の日付は日次に含まれない
	if err := counters.Increment(ctx, "g1", model.ItemTypeWord, "z", today.AddDate(0, 0, -1), 99); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	got, err := e.TopItems(ctx, "g1", model.ItemTypeWord, model.Daily, 10)
	if err != nil {
		t.Fatalf("TopItems: %v", err)
	}
	want := []model.RankedItem{{Token: "c", Count: 5}, {Token: "a", Count: 3}, {Token: "b", Count: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopItems = %v, want %v", got, want)
	}
}

func TestTopItems_PropagatesStoreError(t *testing.T) {
	storeErr := model.NewStoreError("集計の取得に失敗しました", errors.New("connection refused"))
	mock := &mockCounterRepo{
		topKFn: func(context.Context, model.ScopeID, model.ItemType, model.DateRange, int) ([]model.RankedItem, error) {
			return nil, storeErr
		},
	}
	e, _ := newTestEngine(t, mock)

	_, err := e.TopItems(context.Background(), "g1", model.ItemTypeWord, model.Weekly, 5)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	if model.IsValidation(err) {
		t.Error("ストアエラーを検証エラーとして扱ってはいけない")
	}
}

func TestRankChanges_ZeroPrevious(t *testing.T) {
	got := RankChanges(map[string]int64{"sessiz": 0}, map[string]int64{"yeni": 5}, 10)

	byToken := map[string]model.TrendChange{}
	for _, c := range got {
		byToken[c.Token] = c
	}
	if c := byToken["yeni"]; c.PercentChange != 100 || c.AbsoluteChange != 5 || c.Previous != 0 {
		t.Errorf("0→5 = %+v, want percent 100, abs 5", c)
	}
	if c := byToken["sessiz"]; c.PercentChange != 0 || c.AbsoluteChange != 0 {
		t.Errorf("0→0 = %+v, want percent 0", c)
	}
}

func TestRankChanges_Ordering(t *testing.T) {
	prev := map[string]int64{"azalan": 10, "ikiye": 2, "bir": 1, "esit1": 4, "esit2": 4}
	curr := map[string]int64{"azalan": 5, "ikiye": 4, "yeni": 3, "bir": 2, "esit1": 6, "esit2": 6}

	got := RankChanges(prev, curr, 10)

	var tokens []string
	for _, c := range got {
		tokens = append(tokens, c.Token)
	}
	// 100%: yeni(+3), ikiye(+2), bir(+1) / 50%: esit1, esit2（同値は辞書順）, azalan(-50%, -5)
	want := []string{"yeni", "ikiye", "bir", "esit1", "esit2", "azalan"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("order = %v, want %v", tokens, want)
	}

	if top := RankChanges(prev, curr, 2); len(top) != 2 || top[0].Token != "yeni" {
		t.Errorf("k=2 = %v", top)
	}
}

func TestRisingTrends_ComparesWithPreviousPeriod(t *testing.T) {
	counters := repository.NewMemoryCounterRepo()
	e, _ := newTestEngine(t, counters)
	ctx := context.Background()

	// 今週: 2024-03-05..11, 前週: 2024-02-27..03-04
	seed := []struct {
		token string
		day   time.Time
		n     int64
	}{
		{"deprem", date(2024, 3, 1), 2},
		{"deprem", date(2024, 3, 10), 6},
		{"bayram", date(2024, 2, 28), 4},
		{"bayram", date(2024, 3, 6), 2},
		{"yardım", date(2024, 3, 11), 1},
	}
	for _, s := range seed {
		if err := counters.Increment(ctx, "g1", model.ItemTypeWord, s.token, s.day, s.n); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	got, err := e.RisingTrends(ctx, "g1", model.ItemTypeWord, model.Weekly, 5)
	if err != nil {
		t.Fatalf("RisingTrends: %v", err)
	}
	want := []model.TrendChange{
		{Token: "deprem", Previous: 2, Current: 6, AbsoluteChange: 4, PercentChange: 200},
		{Token: "yardım", Previous: 0, Current: 1, AbsoluteChange: 1, PercentChange: 100},
		{Token: "bayram", Previous: 4, Current: 2, AbsoluteChange: -2, PercentChange: -50},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RisingTrends = %+v, want %+v", got, want)
	}
}

func TestRisingTrends_AllTimeIsValidationError(t *testing.T) {
	mock := &mockCounterRepo{}
	e, _ := newTestEngine(t, mock)

	_, err := e.RisingTrends(context.Background(), "g1", model.ItemTypeWord, model.AllTime, 5)
	if !model.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
	if mock.calls != 0 {
		t.Errorf("ストアへ %d 回アクセスした", mock.calls)
	}
}

func TestTrendDelta_PropagatesStoreError(t *testing.T) {
	mock := &mockCounterRepo{
		rangeTotalsFn: func(_ context.Context, _ model.ScopeID, _ model.ItemType, r model.DateRange) (map[string]int64, error) {
			if r.End.Equal(date(2024, 3, 4)) {
				return nil, model.NewStoreError("範囲集計の取得に失敗しました", errors.New("timeout"))
			}
			return map[string]int64{"a": 1}, nil
		},
	}
	e, _ := newTestEngine(t, mock)

	_, err := e.TrendDelta(context.Background(), "g1", model.ItemTypeHashtag,
		model.DateRange{Start: date(2024, 2, 27), End: date(2024, 3, 4)},
		model.DateRange{Start: date(2024, 3, 5), End: date(2024, 3, 11)}, 5)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestTokenSeries_FillsMissingDays(t *testing.T) {
	counters := repository.NewMemoryCounterRepo()
	e, _ := newTestEngine(t, counters)
	ctx := context.Background()

	if err := counters.Increment(ctx, "g1", model.ItemTypeHashtag, "deprem", date(2024, 3, 6), 3); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := counters.Increment(ctx, "g1", model.ItemTypeHashtag, "deprem", date(2024, 3, 11), 1); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	got, err := e.TokenSeries(ctx, "g1", model.ItemTypeHashtag, "deprem", model.Weekly)
	if err != nil {
		t.Fatalf("TokenSeries: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("len = %d, want 7", len(got))
	}
	var counts []int64
	for _, c := range got {
		counts = append(counts, c.Count)
	}
	if want := []int64{0, 3, 0, 0, 0, 0, 1}; !reflect.DeepEqual(counts, want) {
		t.Errorf("counts = %v, want %v", counts, want)
	}
	if !got[0].Date.Equal(date(2024, 3, 5)) {
		t.Errorf("先頭の日付 = %s, want 2024-03-05", model.FormatDate(got[0].Date))
	}

	if _, err := e.TokenSeries(ctx, "g1", model.ItemTypeHashtag, "", model.Weekly); !model.IsValidation(err) {
		t.Errorf("空トークン err = %v, want validation error", err)
	}
}

func TestRefreshSnapshot_IsIdempotent(t *testing.T) {
	counters := repository.NewMemoryCounterRepo()
	e, snaps := newTestEngine(t, counters)
	ctx := context.Background()
	today := date(2024, 3, 11)

	incs := []model.Increment{
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "deprem", Date: today}, By: 4},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "yardım", Date: today}, By: 2},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeHashtag, Token: "afad", Date: today}, By: 1},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeEmoji, Token: "😢", Date: today}, By: 3},
	}
	if err := counters.IncrementBatch(ctx, incs); err != nil {
		t.Fatalf("IncrementBatch: %v", err)
	}

	first, err := e.RefreshSnapshot(ctx, "g1", model.Daily)
	if err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}
	if _, err := e.RefreshSnapshot(ctx, "g1", model.Daily); err != nil {
		t.Fatalf("RefreshSnapshot(2回目): %v", err)
	}

	stored, err := e.Snapshot(ctx, "g1", model.Daily, time.Time{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if stored == nil {
		t.Fatal("Snapshot returned nil")
	}
	if !reflect.DeepEqual(stored.Rows, first.Rows) {
		t.Errorf("2回実行後の行 = %+v, want %+v", stored.Rows, first.Rows)
	}
	if len(stored.Rows) != 4 {
		t.Errorf("行数 = %d, want 4", len(stored.Rows))
	}
	if words := stored.ItemsByType(model.ItemTypeWord); len(words) != 2 || words[0].Token != "deprem" {
		t.Errorf("word行 = %v", words)
	}

	// 削除対象が1セット分だけであることで重複がないことを確認する
	n, err := snaps.DeleteBefore(ctx, today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 4 {
		t.Errorf("保存行数 = %d, want 4", n)
	}
}

func TestSnapshot_MissingReturnsNil(t *testing.T) {
	e, _ := newTestEngine(t, repository.NewMemoryCounterRepo())

	got, err := e.Snapshot(context.Background(), "g1", model.Monthly, date(2024, 1, 1))
	if err != nil || got != nil {
		t.Errorf("Snapshot = %v, %v; want nil, nil", got, err)
	}
}

// TestRefreshSnapshot_EmptyStoreIsStored は集計データがなくても計算済みの空スナップショットを取得できることを検証する。
func TestRefreshSnapshot_EmptyStoreIsStored(t *testing.T) {
	e, _ := newTestEngine(t, repository.NewMemoryCounterRepo())
	ctx := context.Background()

	refreshed, err := e.RefreshSnapshot(ctx, "g1", model.Daily)
	if err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}
	if len(refreshed.Rows) != 0 {
		t.Fatalf("行数 = %d, want 0", len(refreshed.Rows))
	}

	got, err := e.Snapshot(ctx, "g1", model.Daily, time.Time{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got == nil {
		t.Fatal("計算済みの空スナップショットがnilになりました")
	}
	if got.Rows == nil || len(got.Rows) != 0 {
		t.Errorf("Rows = %#v, want empty slice", got.Rows)
	}
}

// TestRefreshSnapshot_ReadsClockOnce は日付をまたぐ実行でも保存日付と集計範囲が一致することを検証する。
func TestRefreshSnapshot_ReadsClockOnce(t *testing.T) {
	loc := istanbul(t)
	// イスタンブールの 2024-03-11 23:59:59 から呼び出しごとに1秒進む時計
	start := time.Date(2024, 3, 11, 23, 59, 59, 0, loc)
	var ticks int
	clock := func() time.Time {
		now := start.Add(time.Duration(ticks) * time.Second)
		ticks++
		return now
	}

	var ranges []model.DateRange
	counters := &mockCounterRepo{
		topKFn: func(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error) {
			ranges = append(ranges, r)
			return []model.RankedItem{}, nil
		},
	}
	e := NewEngine(counters, repository.NewMemorySnapshotRepo(), loc, WithClock(clock))

	snap, err := e.RefreshSnapshot(context.Background(), "g1", model.Daily)
	if err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}

	want := date(2024, 3, 11)
	if !snap.Date.Equal(want) {
		t.Errorf("Date = %s, want %s", model.FormatDate(snap.Date), model.FormatDate(want))
	}
	for _, r := range ranges {
		if !r.End.Equal(snap.Date) {
			t.Errorf("集計範囲の終端 = %s, want %s", model.FormatDate(r.End), model.FormatDate(snap.Date))
		}
	}
	if len(ranges) != len(model.AllItemTypes()) {
		t.Errorf("TopK呼び出し回数 = %d, want %d", len(ranges), len(model.AllItemTypes()))
	}
}

func TestRangeEnding(t *testing.T) {
	today := date(2024, 3, 11)

	r, err := RangeEnding(model.Weekly, today)
	if err != nil {
		t.Fatalf("RangeEnding: %v", err)
	}
	if !r.Start.Equal(date(2024, 3, 5)) || !r.End.Equal(today) {
		t.Errorf("RangeEnding(weekly) = %s..%s", model.FormatDate(r.Start), model.FormatDate(r.End))
	}
	if r, err := RangeEnding(model.AllTime, today); err != nil || !r.Unbounded() {
		t.Errorf("RangeEnding(alltime) = %+v, %v", r, err)
	}
	if _, err := RangeEnding(model.CustomPeriod(0), today); !model.IsValidation(err) {
		t.Errorf("RangeEnding(custom:0) = %v, want validation error", err)
	}
}
