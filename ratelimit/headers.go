package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseMeta is the slice of a CRM response the policy learns from.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

// quota is what one response says about its bucket. Absent headers leave
// the matching has* flag false.
type quota struct {
	limit, remaining, daily          int
	hasLimit, hasRemaining, hasDaily bool

	resetAt    time.Time
	hasResetAt bool

	retryAfter    time.Duration
	hasRetryAfter bool
}

func readQuota(res ResponseMeta, now time.Time) quota {
	var q quota
	q.limit, q.hasLimit = headerInt(res.Headers, "X-RateLimit-Limit", "X-RateLimit-Max")
	q.remaining, q.hasRemaining = headerInt(res.Headers, "X-RateLimit-Remaining")
	q.daily, q.hasDaily = headerInt(res.Headers, "X-RateLimit-Daily-Remaining")
	q.resetAt, q.hasResetAt = headerResetAt(res.Headers, now)
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		q.retryAfter, q.hasRetryAfter = *res.RetryAfter, true
	} else {
		q.retryAfter, q.hasRetryAfter = ParseRetryAfterHeader(header(res.Headers, "Retry-After"), now)
	}
	return q
}

// exhausted reports a 429, or a non 5xx response that spent the bucket and
// says when it refills.
func (q quota) exhausted(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return false
	}
	return q.hasRemaining && q.remaining == 0 && (q.hasResetAt || q.hasLimit || q.hasRetryAfter)
}

// ParseRetryAfterHeader accepts delta seconds or an HTTP date.
func ParseRetryAfterHeader(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		at, err = time.Parse(time.RFC1123, raw)
	}
	if err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func headerInt(headers map[string]string, names ...string) (int, bool) {
	for _, name := range names {
		if value, err := strconv.Atoi(header(headers, name)); err == nil {
			return value, true
		}
	}
	return 0, false
}

// headerResetAt reads an absolute unix reset, or derives one from the burst
// interval window.
func headerResetAt(headers map[string]string, now time.Time) (time.Time, bool) {
	if unix, err := strconv.ParseInt(header(headers, "X-RateLimit-Reset"), 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC(), true
	}
	if interval, ok := headerInt(headers, "X-RateLimit-Interval-Milliseconds"); ok && interval > 0 {
		return now.Add(time.Duration(interval) * time.Millisecond), true
	}
	return time.Time{}, false
}

func header(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
