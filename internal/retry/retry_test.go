package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errFlaky = errors.New("flaky")
	errFinal = errors.New("final")
)

func fast(tries uint) Policy {
	return Policy{Tries: tries, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fast(5), func(err error) bool { return errors.Is(err, errFlaky) }, nil, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(5), func(err error) bool { return errors.Is(err, errFlaky) }, nil, func() (int, error) {
		calls++
		return 0, errFinal
	})
	assert.ErrorIs(t, err, errFinal)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	notified := 0
	_, err := Do(context.Background(), fast(3), func(error) bool { return true }, func(error, time.Duration) { notified++ }, func() (struct{}, error) {
		calls++
		return struct{}{}, errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, notified, 2)
}
