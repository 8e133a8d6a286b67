package strava

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headroom kept below each limit so interactive requests still get through.
const rateLimitBuffer = 5

// RateLimitInfo contains rate limit information from the API
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool

	TimeUntil15MinReset time.Duration
	TimeUntilDailyReset time.Duration
	RecommendedWait     time.Duration
}

// timeUntilNext15MinWindow returns the time until the next quarter hour. Strava
// resets its short window at 0, 15, 30 and 45 minutes past the hour.
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now) + 2*time.Second
}

// timeUntilMidnightUTC returns the time until the daily window resets.
func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + 2*time.Second
}

// IsApproaching15MinLimit returns true if we're close to the 15-minute limit
func (info *RateLimitInfo) IsApproaching15MinLimit() bool {
	return info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min-rateLimitBuffer
}

// IsApproachingDailyLimit returns true if we're close to the daily limit
func (info *RateLimitInfo) IsApproachingDailyLimit() bool {
	return info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily-rateLimitBuffer
}

func (info *RateLimitInfo) recalculate(now time.Time) {
	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)
	info.RecommendedWait = 0

	switch {
	case info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	case info.IsApproaching15MinLimit():
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.IsApproachingDailyLimit():
		info.RecommendedWait = info.TimeUntilDailyReset
	}
}

// parsePair reads a "15min,daily" header value.
func parsePair(v string) (short, daily int) {
	if v == "" {
		return 0, 0
	}
	parts := strings.Split(v, ",")
	short, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		daily, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return short, daily
}

// minPositive returns the smaller of a and b, ignoring unset (zero) values.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

// parseRateLimitHeaders merges the general X-RateLimit-* and the stricter
// X-ReadRateLimit-* headers, keeping the lower limit and the higher usage.
func parseRateLimitHeaders(headers http.Header, now time.Time) RateLimitInfo {
	genLimit15, genLimitDay := parsePair(headers.Get("X-RateLimit-Limit"))
	genUsage15, genUsageDay := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15, readLimitDay := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15, readUsageDay := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	info := RateLimitInfo{
		Limit15Min: minPositive(genLimit15, readLimit15),
		LimitDaily: minPositive(genLimitDay, readLimitDay),
		Usage15Min: max(genUsage15, readUsage15),
		UsageDaily: max(genUsageDay, readUsageDay),
	}
	info.recalculate(now)
	return info
}
