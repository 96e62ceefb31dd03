// Package ratelimit enforces a shared provider send budget across every
// dispatch worker using atomic Redis Lua counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDailyLimit is returned when the day's send budget is exhausted.
var ErrDailyLimit = errors.New("ratelimit: daily send limit reached")

// Limits caps sends per provider. A zero value disables that window.
type Limits struct {
	PerSecond int
	Daily     int
}

// Checks both windows and increments only when both pass.
const budgetLuaScript = `
local secondKey = KEYS[1]
local dailyKey = KEYS[2]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local dailyLimit = tonumber(ARGV[3])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secondLimit > 0 and secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if dailyLimit > 0 and dayCurrent + increment > dailyLimit then
    return {0, 2, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, 2)
end
local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, 90000)
end

return {1, 0, newDay}
`

// Limiter is a Redis-backed send budget for one provider.
type Limiter struct {
	redis    *redis.Client
	provider string
	limits   Limits
	script   *redis.Script
	now      func() time.Time
}

// New creates a limiter for provider.
func New(client *redis.Client, provider string, limits Limits) *Limiter {
	return &Limiter{
		redis:    client,
		provider: provider,
		limits:   limits,
		script:   redis.NewScript(budgetLuaScript),
		now:      time.Now,
	}
}

// Allow reserves n sends if both windows have room. When the per-second
// window is full it returns false with the time to wait.
func (l *Limiter) Allow(ctx context.Context, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}
	now := l.now().UTC()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", l.provider, now.Unix())
	dailyKey := fmt.Sprintf("ratelimit:%s:day:%s", l.provider, now.Format("2006-01-02"))

	result, err := l.script.Run(ctx, l.redis,
		[]string{secondKey, dailyKey},
		n, l.limits.PerSecond, l.limits.Daily,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}
	if result[1].(int64) == 2 {
		return false, 0, ErrDailyLimit
	}
	return false, time.Second - time.Duration(now.Nanosecond()), nil
}

// Wait blocks until n sends fit in the budget, ctx ends, or the daily
// budget is exhausted. Requests larger than the per-second cap are split.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	for n > 0 {
		step := n
		if l.limits.PerSecond > 0 && step > l.limits.PerSecond {
			step = l.limits.PerSecond
		}
		ok, wait, err := l.Allow(ctx, step)
		if err != nil {
			return err
		}
		if ok {
			n -= step
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
