// Package sweep runs periodic background passes with jittered cadence.
package sweep

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultInterval and DefaultJitter define the shared sweep cadence.
	DefaultInterval = 10 * time.Second
	DefaultJitter   = 2 * time.Second
)

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitter)).
func Run(stopCh <-chan struct{}, minInterval, jitter time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitter < 0 {
		jitter = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitter > 0 {
			interval += time.Duration(rand.Int64N(int64(jitter)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
