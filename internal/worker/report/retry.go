package report

import (
	"errors"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

const (
	// initialBackoff は再試行の初回遅延。
	initialBackoff = 2 * time.Second
	// maxBackoff は再試行の最大遅延。
	maxBackoff = 20 * time.Second
	// defaultMaxAttempts はレポート生成の最大試行回数。
	defaultMaxAttempts = 3
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回2秒、2倍ずつ増加、最大20秒。自動レポートは配信時刻の1分以内に収める。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryable はストアの一時的な障害かどうかを返す。入力検証エラーは再試行しない。
func retryable(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable)
}
