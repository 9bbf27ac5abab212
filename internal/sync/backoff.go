package sync

import "time"

// 再接続バックオフの既定値。
const (
	// DefaultBackoffBase は初回失敗後の待ち時間。
	DefaultBackoffBase = 1 * time.Second
	// DefaultBackoffMax はバックオフの上限。
	DefaultBackoffMax = 5 * time.Minute
	// DefaultMaxConsecutiveFailures はこの回数連続で失敗すると
	// セッションがDisconnectedに落ちる。
	DefaultMaxConsecutiveFailures = 5
)

// backoffDuration は失敗回数に応じた指数バックオフを返す。
// failures=1でbase、以後2倍ずつ増加し、maxで頭打ちになる。
func backoffDuration(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
