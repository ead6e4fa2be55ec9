// Package occ implements optimistic concurrency control: read a row, compute
// the new state, write it only if the version is still the one that was read.
package occ

import (
	"context"
	"errors"
	"fmt"
)

// ErrStale is returned by a conditional write that matched no row because the
// version moved on since the read.
var ErrStale = errors.New("occ: stale version")

// ErrExhausted is matched (errors.Is) by the error Retry returns when every
// attempt lost the race.
var ErrExhausted = errors.New("occ: attempts exhausted")

// ExhaustedError carries the number of attempts made.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("occ: gave up after %d attempts", e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// AttemptFunc is notified after a stale write, before the next read.
type AttemptFunc func(ctx context.Context, attempt int)

// Options tune Retry.
type Options struct {
	MaxAttempts int
	OnStale     AttemptFunc
}

// Retry runs read followed by write until write succeeds, fails with anything
// other than ErrStale, or MaxAttempts writes were stale.
//
// read must fetch a fresh row every time; write receives that row and must
// perform its update conditioned on the row's version. Everything computed
// inside write is recomputed on each attempt, so write must not have side
// effects outside the conditional update itself.
func Retry[T any](
	ctx context.Context,
	opts Options,
	read func(ctx context.Context) (T, error),
	write func(ctx context.Context, current T) error,
) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := read(ctx)
		if err != nil {
			return err
		}

		err = write(ctx, current)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStale) {
			return err
		}

		if opts.OnStale != nil {
			opts.OnStale(ctx, attempt)
		}
	}

	return &ExhaustedError{Attempts: attempts}
}
