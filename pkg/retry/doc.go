// Package retry provides a bounded retry-with-backoff combinator.
//
// # Overview
//
// Do runs an operation until it succeeds, returns a non-retryable error, or the policy's
// attempt budget is spent. Delays grow exponentially from InitialDelay by Multiplier and
// are capped at MaxDelay:
//
//	attempt 1 fails -> wait 1s
//	attempt 2 fails -> wait 2s
//	attempt 3 fails -> ExhaustedError
//
// # Scheduled waits
//
// An operation may ask to be retried at a specific instant by returning a *WaitError,
// for example when an API reports a rate limit reset time. Such waits do not consume an
// attempt, but are bounded by Policy.MaxWaits.
//
//	err := retry.Do(ctx, policy, func(ctx context.Context) error {
//		resp, err := call(ctx)
//		if isRateLimited(resp) {
//			return &retry.WaitError{Until: resetTime(resp), Err: err}
//		}
//		return err
//	}, isTransient)
package retry
