package mcp

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// perMinute returns a limiter refilling n tokens per minute up to burst.
func perMinute(n float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(n/60), burst)
}

// toolLimits holds one limiter per tool. Tools without a limiter are not
// limited.
type toolLimits map[string]*rate.Limiter

func newToolLimits() toolLimits {
	return toolLimits{
		toolMonteCarlo: perMinute(6, 2),
		toolRuns:       perMinute(60, 10),
		toolDescribe:   perMinute(30, 5),
	}
}

func (l toolLimits) check(tool string) error {
	return l.checkAt(tool, time.Now())
}

func (l toolLimits) checkAt(tool string, now time.Time) error {
	lim, ok := l[tool]
	if !ok || lim.AllowN(now, 1) {
		return nil
	}
	return fmt.Errorf("rate limit exceeded for %s, please try again shortly", tool)
}
