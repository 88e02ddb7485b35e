package capture

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const readyPollInterval = 20 * time.Millisecond

// WaitReady blocks until every source reports ready, ctx ends, or timeout
// elapses. On timeout the error wraps ErrNotReady and names the sources that
// never produced data.
func WaitReady(ctx context.Context, timeout time.Duration, sources ...Source) error {
	if allReady(sources) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(readyPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s: %s", ErrNotReady, timeout, strings.Join(pending(sources), ", "))
		case <-poll.C:
			if allReady(sources) {
				return nil
			}
		}
	}
}

func allReady(sources []Source) bool {
	for _, src := range sources {
		if src != nil && !src.Ready() {
			return false
		}
	}
	return true
}

func pending(sources []Source) []string {
	var names []string
	for _, src := range sources {
		if src != nil && !src.Ready() {
			names = append(names, src.Kind().String())
		}
	}
	return names
}
