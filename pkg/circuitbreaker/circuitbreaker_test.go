package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(Settings{
		Name:             "smtp",
		MaxRequests:      1,
		Timeout:          time.Hour,
		FailureThreshold: 2,
		OnStateChange: func(_, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	boom := errors.New("boom")
	calls := 0
	fail := func() error {
		calls++
		return boom
	}

	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.Equal(t, "closed", cb.State())
	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.Equal(t, "open", cb.State())

	assert.ErrorIs(t, cb.Execute(fail), ErrOpen)
	assert.Equal(t, 2, calls, "open breaker must not call through")
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, "smtp", cb.Name())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "push", Timeout: time.Hour, FailureThreshold: 2})
	boom := errors.New("boom")

	assert.Error(t, cb.Execute(func() error { return boom }))
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, "closed", cb.State())
}
