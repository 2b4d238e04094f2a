package crawler

import (
	"context"
	"time"

	"github.com/user/iap-service/internal/browser"
)

// MarkerSelector matches the section headings of the app information list.
// Their presence means the lazily rendered part of the page is in the DOM.
const MarkerSelector = "dt.information-list__item__term"

type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{Timeout: 10 * time.Second, PollInterval: 100 * time.Millisecond}
}

// AwaitMarker polls the page for selector, scrolling half a viewport between
// checks. It returns false when the timeout elapses or ctx is done; a failed
// check counts as "not present yet".
func AwaitMarker(ctx context.Context, s browser.Session, selector string, opts WaitOptions) bool {
	d := DefaultWaitOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = d.PollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		if found, err := s.HasElement(ctx, selector); err == nil && found {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		_ = s.ScrollHalfViewport(ctx)

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
