package repository

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

var (
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
)

// counterContract はCounterRepositoryの実装が満たすべき振る舞いを検証する。
// newRepoはスコープ g1 と g2 を登録済みの空のリポジトリを返すこと。
func counterContract(t *testing.T, newRepo func(t *testing.T) CounterRepository) {
	ctx := context.Background()

	t.Run("加算の往復: 2と3を加算すると5になる", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Increment(ctx, "g1", model.ItemTypeWord, "merhaba", day1, 2); err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if err := repo.Increment(ctx, "g1", model.ItemTypeWord, "merhaba", day1, 3); err != nil {
			t.Fatalf("Increment: %v", err)
		}

		got, err := repo.RangeTotals(ctx, "g1", model.ItemTypeWord, model.DateRange{Start: day1, End: day1})
		if err != nil {
			t.Fatalf("RangeTotals: %v", err)
		}
		if want := map[string]int64{"merhaba": 5}; !reflect.DeepEqual(got, want) {
			t.Errorf("RangeTotals = %v, want %v", got, want)
		}
	})

	t.Run("並行加算で更新が失われない", func(t *testing.T) {
		repo := newRepo(t)
		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := repo.Increment(ctx, "g1", model.ItemTypeHashtag, "deprem", day2, 1); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("Increment: %v", err)
		}

		got, err := repo.RangeTotals(ctx, "g1", model.ItemTypeHashtag, model.DateRange{Start: day2, End: day2})
		if err != nil {
			t.Fatalf("RangeTotals: %v", err)
		}
		if got["deprem"] != n {
			t.Errorf("deprem = %d, want %d", got["deprem"], n)
		}
	})

	t.Run("TopKは降順かつ同数は辞書順", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "g1", model.ItemTypeWord, day1, map[string]int64{"a": 3, "b": 3, "c": 5})

		got, err := repo.TopK(ctx, "g1", model.ItemTypeWord, model.DateRange{Start: day1, End: day1}, 3)
		if err != nil {
			t.Fatalf("TopK: %v", err)
		}
		want := []model.RankedItem{{Token: "c", Count: 5}, {Token: "a", Count: 3}, {Token: "b", Count: 3}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("TopK = %v, want %v", got, want)
		}

		top1, err := repo.TopK(ctx, "g1", model.ItemTypeWord, model.DateRange{Start: day1, End: day1}, 1)
		if err != nil {
			t.Fatalf("TopK: %v", err)
		}
		if len(top1) != 1 || top1[0].Token != "c" {
			t.Errorf("TopK(k=1) = %v, want [c]", top1)
		}
	})

	t.Run("期間は両端を含み範囲外は集計しない", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "g1", model.ItemTypeWord, day1, map[string]int64{"kedi": 1})
		seed(t, repo, "g1", model.ItemTypeWord, day2, map[string]int64{"kedi": 2})
		seed(t, repo, "g1", model.ItemTypeWord, day3, map[string]int64{"kedi": 4})

		got, err := repo.RangeTotals(ctx, "g1", model.ItemTypeWord, model.DateRange{Start: day1, End: day2})
		if err != nil {
			t.Fatalf("RangeTotals: %v", err)
		}
		if got["kedi"] != 3 {
			t.Errorf("kedi = %d, want 3", got["kedi"])
		}

		all, err := repo.RangeTotals(ctx, "g1", model.ItemTypeWord, model.DateRange{})
		if err != nil {
			t.Fatalf("RangeTotals(全期間): %v", err)
		}
		if all["kedi"] != 7 {
			t.Errorf("全期間のkedi = %d, want 7", all["kedi"])
		}
	})

	t.Run("グローバルスコープは全スコープを合算する", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "g1", model.ItemTypeMention, day1, map[string]int64{"afad": 2})
		seed(t, repo, "g2", model.ItemTypeMention, day1, map[string]int64{"afad": 3, "kizilay": 1})

		got, err := repo.TopK(ctx, model.GlobalScope, model.ItemTypeMention, model.DateRange{Start: day1, End: day1}, 10)
		if err != nil {
			t.Fatalf("TopK: %v", err)
		}
		want := []model.RankedItem{{Token: "afad", Count: 5}, {Token: "kizilay", Count: 1}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("TopK = %v, want %v", got, want)
		}

		scoped, err := repo.TopK(ctx, "g1", model.ItemTypeMention, model.DateRange{Start: day1, End: day1}, 10)
		if err != nil {
			t.Fatalf("TopK: %v", err)
		}
		if len(scoped) != 1 || scoped[0].Count != 2 {
			t.Errorf("g1のTopK = %v, want [afad:2]", scoped)
		}
	})

	t.Run("データがない場合は空の結果でエラーにならない", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.TopK(ctx, "g1", model.ItemTypeEmoji, model.DateRange{Start: day1, End: day3}, 5)
		if err != nil {
			t.Fatalf("TopK: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("TopK = %#v, want empty non-nil slice", got)
		}
	})

	t.Run("一括加算は同一キーをまとめて適用する", func(t *testing.T) {
		repo := newRepo(t)
		incs := []model.Increment{
			{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeEmoji, Token: "😢", Date: day1}, By: 1},
			{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeEmoji, Token: "🎉", Date: day1}, By: 1},
			{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeEmoji, Token: "😢", Date: day1}, By: 1},
		}
		if err := repo.IncrementBatch(ctx, incs); err != nil {
			t.Fatalf("IncrementBatch: %v", err)
		}

		got, err := repo.RangeTotals(ctx, "g1", model.ItemTypeEmoji, model.DateRange{Start: day1, End: day1})
		if err != nil {
			t.Fatalf("RangeTotals: %v", err)
		}
		if want := map[string]int64{"😢": 2, "🎉": 1}; !reflect.DeepEqual(got, want) {
			t.Errorf("RangeTotals = %v, want %v", got, want)
		}
	})

	t.Run("Seriesは日付の昇順で日別カウントを返す", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "g1", model.ItemTypeWord, day3, map[string]int64{"bayram": 4})
		seed(t, repo, "g1", model.ItemTypeWord, day1, map[string]int64{"bayram": 1})

		got, err := repo.Series(ctx, "g1", model.ItemTypeWord, "bayram", model.DateRange{Start: day1, End: day3})
		if err != nil {
			t.Fatalf("Series: %v", err)
		}
		want := []model.DailyCount{{Date: day1, Count: 1}, {Date: day3, Count: 4}}
		if len(got) != len(want) {
			t.Fatalf("Series = %v, want %v", got, want)
		}
		for i := range want {
			if !got[i].Date.Equal(want[i].Date) || got[i].Count != want[i].Count {
				t.Errorf("Series[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("DeleteBeforeは指定日より前のバケットのみ削除する", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "g1", model.ItemTypeWord, day1, map[string]int64{"eski": 1})
		seed(t, repo, "g1", model.ItemTypeWord, day2, map[string]int64{"yeni": 1})

		n, err := repo.DeleteBefore(ctx, day2)
		if err != nil {
			t.Fatalf("DeleteBefore: %v", err)
		}
		if n != 1 {
			t.Errorf("削除件数 = %d, want 1", n)
		}

		got, err := repo.RangeTotals(ctx, "g1", model.ItemTypeWord, model.DateRange{})
		if err != nil {
			t.Fatalf("RangeTotals: %v", err)
		}
		if want := map[string]int64{"yeni": 1}; !reflect.DeepEqual(got, want) {
			t.Errorf("RangeTotals = %v, want %v", got, want)
		}
	})
}

func seed(t *testing.T, repo CounterRepository, scope model.ScopeID, itemType model.ItemType, date time.Time, counts map[string]int64) {
	t.Helper()
	for token, n := range counts {
		if err := repo.Increment(context.Background(), scope, itemType, token, date, n); err != nil {
			t.Fatalf("seed Increment(%s): %v", token, err)
		}
	}
}

func TestMemoryCounterRepo_Contract(t *testing.T) {
	counterContract(t, func(t *testing.T) CounterRepository {
		return NewMemoryCounterRepo()
	})
}

func TestMemoryCounterRepo_ImplementsInterface(t *testing.T) {
	var _ CounterRepository = (*MemoryCounterRepo)(nil)
	var _ CounterRepository = (*PostgresCounterRepo)(nil)
}

func TestMemoryCounterRepo_CancelledContextIsStoreError(t *testing.T) {
	repo := NewMemoryCounterRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.TopK(ctx, "g1", model.ItemTypeWord, model.DateRange{}, 5)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

// TestMemoryCounterRepo_IncrementBatchDoesNotTakeExclusiveLock は既存キーへの一括加算が
// マップの読み取りロック保持中でも完了することを検証する。
func TestMemoryCounterRepo_IncrementBatchDoesNotTakeExclusiveLock(t *testing.T) {
	repo := NewMemoryCounterRepo()
	ctx := context.Background()
	key := model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "kahve", Date: day1}
	if err := repo.IncrementBatch(ctx, []model.Increment{{Key: key, By: 1}}); err != nil {
		t.Fatalf("IncrementBatch: %v", err)
	}

	// 集計クエリが読み取りロックを保持している状態を再現する
	repo.mu.RLock()
	done := make(chan error, 1)
	go func() {
		done <- repo.IncrementBatch(ctx, []model.Increment{{Key: key, By: 2}, {Key: key, By: 3}})
	}()

	select {
	case err := <-done:
		repo.mu.RUnlock()
		if err != nil {
			t.Fatalf("IncrementBatch: %v", err)
		}
	case <-time.After(2 * time.Second):
		repo.mu.RUnlock()
		<-done
		t.Fatal("IncrementBatch blocked while a reader held the map lock")
	}

	totals, err := repo.RangeTotals(ctx, "g1", model.ItemTypeWord, model.DateRange{Start: day1, End: day1})
	if err != nil {
		t.Fatalf("RangeTotals: %v", err)
	}
	if totals["kahve"] != 6 {
		t.Errorf("kahve = %d, want 6", totals["kahve"])
	}
}

func TestMergeIncrements_SortsAndSums(t *testing.T) {
	incs := []model.Increment{
		{Key: model.CounterKey{Scope: "g2", Type: model.ItemTypeWord, Token: "b", Date: day1}, By: 1},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "z", Date: day1}, By: 1},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "a", Date: day1.Add(5 * time.Hour)}, By: 2},
		{Key: model.CounterKey{Scope: "g1", Type: model.ItemTypeWord, Token: "a", Date: day1}, By: 3},
	}

	got := MergeIncrements(incs)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %v", len(got), got)
	}
	if got[0].Key.Token != "a" || got[0].By != 5 {
		t.Errorf("got[0] = %+v, want token a by 5", got[0])
	}
	if got[1].Key.Token != "z" || got[2].Key.Scope != "g2" {
		t.Errorf("キーの順序が不正: %+v", got)
	}
}

func TestRankTotals_Truncates(t *testing.T) {
	got := RankTotals(map[string]int64{"x": 1, "y": 2, "z": 2}, 2)
	want := []model.RankedItem{{Token: "y", Count: 2}, {Token: "z", Count: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RankTotals = %v, want %v", got, want)
	}
}
