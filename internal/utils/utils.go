package utils

import (
	"context"
	"errors"
	"strings"
	"time"
)

var sleep = time.Sleep

// ErrWaitTimeout is returned by WaitUntil when the condition is not met in time.
var ErrWaitTimeout = errors.New("condition not met before timeout")

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sleep(d)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// WaitUntil polls cond every interval until it reports true, returns an error,
// the timeout elapses or ctx is done. The condition is always checked at least once.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}

		if err := WaitFor(ctx, interval); err != nil {
			return err
		}
	}
}

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
