package common

import (
	"context"
	"time"
)

/*Timestamp - unix seconds, kept as an integer so it encodes the way the upload service sends it */
type Timestamp int64

// WaitOrQuit sleeps for d and reports true when ctx finished first.
func WaitOrQuit(ctx context.Context, d time.Duration) (quit bool) {
	if d <= 0 {
		return ctx.Err() != nil
	}
	var tm = time.NewTimer(d)
	defer tm.Stop()

	select {
	case <-tm.C:
		return false
	case <-ctx.Done():
		return true
	}
}
