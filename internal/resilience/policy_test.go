package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Name:             "test",
		MaxRetries:       2,
		InitialInterval:  time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	}
}

func TestPolicy_Do(t *testing.T) {
	t.Run("retries server errors until success", func(t *testing.T) {
		p := New(testConfig(), nil)
		calls := 0

		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return &StatusError{Service: "test", StatusCode: 503}
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		p := New(testConfig(), nil)
		calls := 0

		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &StatusError{Service: "test", StatusCode: 400, Body: "bad"}
		})

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 400, statusErr.StatusCode)
		assert.Equal(t, 1, calls)
		assert.Equal(t, gobreaker.StateClosed, p.State())
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		p := New(testConfig(), nil)
		calls := 0
		cause := errors.New("undecodable body")

		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return Permanent(cause)
		})

		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		p := New(testConfig(), nil)
		calls := 0

		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &StatusError{Service: "test", StatusCode: 429}
		})

		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("opens the breaker after repeated failures", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRetries = 0
		p := New(cfg, nil)
		failing := func(ctx context.Context) error {
			return errors.New("connection refused")
		}

		for i := 0; i < 3; i++ {
			assert.Error(t, p.Do(context.Background(), failing))
		}
		assert.Equal(t, gobreaker.StateOpen, p.State())

		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 0, calls)
	})
}

func TestStatusError_Retryable(t *testing.T) {
	assert.True(t, (&StatusError{StatusCode: 500}).Retryable())
	assert.True(t, (&StatusError{StatusCode: 429}).Retryable())
	assert.False(t, (&StatusError{StatusCode: 404}).Retryable())
}
