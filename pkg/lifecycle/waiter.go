// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrWaitTimeout is returned by the blocking helpers when the object did
// not converge within WaitOptions.Timeout.
var ErrWaitTimeout = errors.New("timed out waiting for convergence")

var errPending = errors.New("not converged yet")

// WaitOptions controls the polling cadence of the blocking helpers.
type WaitOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	// Timeout zero keeps the backoff package default.
	Timeout time.Duration
}

// DefaultWaitOptions polls every two seconds at first, backing off to
// thirty, for at most thirty minutes.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Interval:    2 * time.Second,
		MaxInterval: 30 * time.Second,
		Timeout:     30 * time.Minute,
	}
}

func (o WaitOptions) retryOptions(b backoff.BackOff) []backoff.RetryOption {
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if o.Timeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(o.Timeout))
	}
	return opts
}

func (o WaitOptions) exponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.Interval > 0 {
		b.InitialInterval = o.Interval
	}
	if o.MaxInterval > 0 {
		b.MaxInterval = o.MaxInterval
	}
	return b
}

// poll calls check until it reports done or fails.
func poll(ctx context.Context, opts WaitOptions, check func(context.Context) (bool, error)) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		done, err := check(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !done {
			return struct{}{}, errPending
		}
		return struct{}{}, nil
	}, opts.retryOptions(opts.exponential())...)

	if errors.Is(err, errPending) {
		return fmt.Errorf("%w after %s", ErrWaitTimeout, opts.Timeout)
	}
	return err
}

// CreateAndWait creates the object and blocks until it is Active.
func CreateAndWait(ctx context.Context, c *Controller, d *Descriptor, opts WaitOptions) (string, error) {
	ref, err := c.Create(ctx, d)
	if err != nil {
		return "", err
	}
	if err := WaitForCreate(ctx, c, d, opts); err != nil {
		return "", err
	}
	return ref, nil
}

// WaitForCreate blocks until IsCreateComplete reports true.
func WaitForCreate(ctx context.Context, c *Controller, d *Descriptor, opts WaitOptions) error {
	return poll(ctx, opts, func(ctx context.Context) (bool, error) {
		return c.IsCreateComplete(ctx, d)
	})
}

// WaitForSuspend blocks until IsSuspendComplete reports true.
func WaitForSuspend(ctx context.Context, c *Controller, d *Descriptor, opts WaitOptions) error {
	return poll(ctx, opts, func(ctx context.Context) (bool, error) {
		return c.IsSuspendComplete(ctx, d)
	})
}

// WaitForResume blocks until IsResumeComplete reports true.
func WaitForResume(ctx context.Context, c *Controller, d *Descriptor, opts WaitOptions) error {
	return poll(ctx, opts, func(ctx context.Context) (bool, error) {
		return c.IsResumeComplete(ctx, d)
	})
}

// DeleteAndWait issues the delete, honouring RetryLaterError waits until the
// controller's retry policy gives up, then blocks until the object is gone.
func DeleteAndWait(ctx context.Context, c *Controller, d *Descriptor, opts WaitOptions) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.Delete(ctx, d)
		var later *RetryLaterError
		if errors.As(err, &later) {
			return struct{}{}, backoff.RetryAfter(int(math.Ceil(later.After.Seconds())))
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, opts.retryOptions(&backoff.ZeroBackOff{})...)
	if err != nil {
		var later *backoff.RetryAfterError
		if errors.As(err, &later) {
			return fmt.Errorf("%w: delete still deferred after %s", ErrWaitTimeout, opts.Timeout)
		}
		return err
	}

	return poll(ctx, opts, func(ctx context.Context) (bool, error) {
		return c.IsDeleteComplete(ctx, d)
	})
}
