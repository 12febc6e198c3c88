package speechlab

import (
	"context"
	"fmt"
	"time"

	"overdub/internal/services"
)

// WaitForResult polls a job until it finishes, the budget runs out, or the
// context is canceled. Transient poll failures are tolerated until the budget
// expires; a failed remote job is reported as a permanent error. On success
// the finished media is fetched and returned.
func (c *Client) WaitForResult(ctx context.Context, externalID string, budget, interval time.Duration) (*Result, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(budget)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.PollStatus(ctx, externalID)
		if err != nil {
			if !services.Retryable(err) {
				return nil, err
			}
			// Transient poll failure; the budget decides when to give up.
		} else {
			switch status.State {
			case StateDone:
				return c.FetchResult(ctx, externalID)
			case StateFailed:
				msg := "remote job failed"
				if status.Detail != "" {
					msg = fmt.Sprintf("remote job failed: %s", status.Detail)
				}
				return nil, services.Wrap(services.ErrPermanent, component, "wait", msg, nil)
			case StateQueued, StateProcessing:
				// Still in flight.
			default:
				return nil, services.Wrap(services.ErrTransient, component, "wait",
					fmt.Sprintf("unknown remote state %q", status.State), nil)
			}
		}

		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrTimeout, component, "wait",
				fmt.Sprintf("job %s did not finish within %s", externalID, budget), nil)
		}

		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTimeout, component, "wait", "wait canceled", ctx.Err())
		case <-ticker.C:
		}
	}
}
