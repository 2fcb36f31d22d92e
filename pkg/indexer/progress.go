package indexer

import (
	"context"
	"time"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/task"
)

// progressGate rate-limits progress snapshots: due once progressUnits
// units accumulated or progressInterval elapsed. Callers hold their own
// stats lock around due.
type progressGate struct {
	units int
	last  time.Time
}

func newProgressGate() progressGate {
	return progressGate{last: time.Now()}
}

func (g *progressGate) due(units int, force bool) bool {
	g.units += units
	if !force && g.units < progressUnits && time.Since(g.last) < progressInterval {
		return false
	}
	g.units = 0
	g.last = time.Now()
	return true
}

// cancelCheck reports context or cooperative cancellation as a Cancelled
// fault naming the mount being worked on.
func cancelCheck(ctx context.Context, rc task.RunContext, mountID string) error {
	if ctx.Err() != nil {
		return fault.Cancelled("work on mount %s interrupted", mountID)
	}
	if rc != nil && rc.IsCancelled() {
		return fault.Cancelled("work on mount %s cancelled", mountID)
	}
	return nil
}
