// Package ratelimit throttles the edit-time endpoints per client IP using
// fixed windows.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Rule limits one method+path to Limit requests per Window per IP.
type Rule struct {
	Method string
	Path   string
	Limit  int
	Window time.Duration
}

func (r Rule) key() string {
	return r.Method + " " + r.Path
}

// Result contains rate limit status for a request.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	RetryIn   time.Duration
}

type window struct {
	rule    string
	count   int
	startAt time.Time
}

// Limiter counts requests per IP and rule.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	windows map[string]*window
	clock   Clock
}

// NewLimiter creates a Limiter with the given rules. Rules with a
// non-positive limit or window are ignored.
func NewLimiter(rules []Rule) *Limiter {
	return NewLimiterWithClock(rules, realClock{})
}

// NewLimiterWithClock is NewLimiter with an explicit clock.
func NewLimiterWithClock(rules []Rule, clock Clock) *Limiter {
	ruleMap := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if r.Limit <= 0 || r.Window <= 0 {
			continue
		}
		ruleMap[r.key()] = r
	}
	return &Limiter{
		rules:   ruleMap,
		windows: make(map[string]*window),
		clock:   clock,
	}
}

// Allow records a request from ip to method+path and reports whether it may
// proceed. Requests that match no rule are always allowed with a zero Result.
func (l *Limiter) Allow(ip, method, path string) (Result, bool) {
	ruleKey := method + " " + path
	rule, ok := l.rules[ruleKey]
	if !ok {
		return Result{}, true
	}

	now := l.clock.Now()
	key := ip + "|" + ruleKey

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists || now.Sub(w.startAt) >= rule.Window {
		l.windows[key] = &window{rule: ruleKey, count: 1, startAt: now}
		return Result{Limit: rule.Limit, Remaining: rule.Limit - 1, ResetAt: now.Add(rule.Window)}, true
	}

	resetAt := w.startAt.Add(rule.Window)
	if w.count >= rule.Limit {
		return Result{Limit: rule.Limit, Remaining: 0, ResetAt: resetAt, RetryIn: resetAt.Sub(now)}, false
	}

	w.count++
	return Result{Limit: rule.Limit, Remaining: rule.Limit - w.count, ResetAt: resetAt}, true
}

// Cleanup drops windows that have expired. Call periodically to prevent
// unbounded growth.
func (l *Limiter) Cleanup() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		rule, ok := l.rules[w.rule]
		if !ok || now.Sub(w.startAt) >= rule.Window {
			delete(l.windows, key)
		}
	}
}

// Len returns the number of live windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
