package model

import "time"

// TrendChange は前期間と今期間の間のトークン使用数の変化を表す。
type TrendChange struct {
	Token          string  `json:"token"`
	Previous       int64   `json:"previous"`
	Current        int64   `json:"current"`
	AbsoluteChange int64   `json:"absolute_change"`
	PercentChange  float64 `json:"percent_change"`
}

// NewTrendChange は前期間と今期間のカウントから変化量を計算する。
// 前期間が0の場合、今期間が正なら100%、0なら0%とする。
func NewTrendChange(token string, previous, current int64) TrendChange {
	var percent float64
	switch {
	case previous == 0 && current > 0:
		percent = 100
	case previous == 0:
		percent = 0
	default:
		percent = float64(current-previous) / float64(previous) * 100
	}
	return TrendChange{
		Token:          token,
		Previous:       previous,
		Current:        current,
		AbsoluteChange: current - previous,
		PercentChange:  percent,
	}
}

// GrowthRate は同じ変化を倍率（今期間/前期間）で表した値を返す。
// 前期間が0の場合は倍率を定義できないためfalseを返す。
func (c TrendChange) GrowthRate() (float64, bool) {
	if c.Previous == 0 {
		return 0, false
	}
	return float64(c.Current) / float64(c.Previous), true
}

// SnapshotRow はスナップショットに保存されたランキングの1行を表す。
type SnapshotRow struct {
	Type  ItemType `json:"type"`
	Rank  int      `json:"rank"`
	Token string   `json:"token"`
	Count int64    `json:"count"`
}

// Snapshot は (scope, period, date) ごとに事前計算されたランキングを表す。
// 再計算時は同じキーの行をすべて置き換える。
type Snapshot struct {
	Scope       ScopeID       `json:"scope_id"`
	Period      Period        `json:"period"`
	Date        time.Time     `json:"date"`
	Rows        []SnapshotRow `json:"rows"`
	RefreshedAt time.Time     `json:"refreshed_at"`
}

// ItemsByType は指定種別の行をランク順のRankedItemとして返す。
func (s Snapshot) ItemsByType(itemType ItemType) []RankedItem {
	items := []RankedItem{}
	for _, row := range s.Rows {
		if row.Type == itemType {
			items = append(items, RankedItem{Token: row.Token, Count: row.Count})
		}
	}
	return items
}
