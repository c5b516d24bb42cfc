package fetcher

import (
	"context"
	"time"
)

// Probe reports page activity to the settle loop.
type Probe interface {
	// LastRequest returns when the most recent tracked network request started.
	// The zero time means no request was seen.
	LastRequest() time.Time
	// Mutations returns the running count of DOM mutations.
	Mutations(ctx context.Context) (int, error)
}

// settle samples p until the page is quiet and its DOM stable. It returns
// partial=true when the settle budget runs out first.
func (f *Fetcher) settle(ctx context.Context, p Probe) (partial bool, err error) {
	budget := time.NewTimer(f.settings.Timeout)
	defer budget.Stop()
	ticker := time.NewTicker(f.settings.SampleInterval)
	defer ticker.Stop()

	last, same := -1, 0
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-budget.C:
			return true, nil
		case <-ticker.C:
		}

		n, err := p.Mutations(ctx)
		if err != nil {
			return false, err
		}
		if n == last {
			same++
		} else {
			last, same = n, 1
		}

		quiet := time.Since(p.LastRequest()) >= f.settings.QuietWindow
		if quiet && same >= f.settings.StableSamples {
			return false, nil
		}
	}
}
