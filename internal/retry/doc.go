// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts.
//
// # Usage
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) error {
//	    return callUpstream(ctx)
//	}, nil)
//
// By default only transport failures (see IsTransportError) are retried.
// A cancelled context stops the loop, including during a backoff wait.
package retry
