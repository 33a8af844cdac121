package cache

import "time"

const day = 24 * time.Hour

// IsExpired 判断 createdAt 是否早于 now_utc - maxDays 天。
func IsExpired(createdAt time.Time, maxDays int) bool {
	return IsExpiredAt(createdAt, maxDays, time.Now())
}

// IsExpiredAt 是 IsExpired 的纯函数形式。maxDays 为负表示永不过期；配置层会拒绝负值。
func IsExpiredAt(createdAt time.Time, maxDays int, now time.Time) bool {
	if maxDays < 0 {
		return false
	}
	// 大天数下 Duration 会溢出，按日历天回退
	cutoff := now.UTC().AddDate(0, 0, -maxDays)
	return createdAt.UTC().Before(cutoff)
}
