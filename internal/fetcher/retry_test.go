package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrierStopsOnSuccess(t *testing.T) {
	r := NewRetrier(WithInitialInterval(time.Millisecond), WithMaxRetries(5))

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierExhausts(t *testing.T) {
	var hooks []int
	r := NewRetrier(
		WithInitialInterval(time.Millisecond),
		WithMaxRetries(2),
		WithOnRetry(func(attempt int, err error) { hooks = append(hooks, attempt) }),
	)

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("down")
	})

	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, hooks)
}

func TestRetrierPermanent(t *testing.T) {
	r := NewRetrier(WithInitialInterval(time.Millisecond), WithMaxRetries(5))
	sentinel := errors.New("bad request")

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetrierContextCancelled(t *testing.T) {
	r := NewRetrier(WithInitialInterval(time.Hour), WithMaxRetries(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(ctx context.Context) error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	r := NewRetrier(WithInitialInterval(time.Millisecond), WithMaxRetries(1))
	calls := 0
	v, err := DoWithData(r, context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 7, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}
