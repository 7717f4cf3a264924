package models

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/browserpool/breaker"
)

func TestPoolStats_Healthy(t *testing.T) {
	ok := PoolStats{AvailableCount: 1, AcquiredCount: 2, TotalCount: 3, MaxSize: 3,
		CircuitBreaker: breaker.Info{State: breaker.StateClosed}}
	assert.True(t, ok.Healthy())

	over := ok
	over.AcquiredCount = 4
	assert.False(t, over.Healthy())

	for _, st := range []breaker.State{breaker.StateOpen, breaker.StateHalfOpen} {
		s := ok
		s.CircuitBreaker.State = st
		assert.False(t, s.Healthy(), st.String())
	}
}

func TestCodeOf(t *testing.T) {
	pe := NewPoolError(ErrCodeAcquireTimeout, "no browser", context.DeadlineExceeded)

	assert.Equal(t, ErrCodeAcquireTimeout, CodeOf(pe))
	assert.Equal(t, ErrCodeAcquireTimeout, CodeOf(fmt.Errorf("render: %w", pe)))
	assert.Equal(t, ErrCodeInternal, CodeOf(assert.AnError))
	assert.ErrorIs(t, pe, context.DeadlineExceeded)
	assert.Equal(t, "ACQUIRE_TIMEOUT: no browser: context deadline exceeded", pe.Error())
	assert.Equal(t, &ErrorDetail{Code: ErrCodeAcquireTimeout, Message: "no browser"}, pe.ToDetail())
}

func TestRenderRequest_Defaults(t *testing.T) {
	r := RenderRequest{URL: "https://example.com"}
	r.Defaults()
	assert.Equal(t, 30, r.Timeout)
	assert.Equal(t, "html", r.OutputFormat)

	r = RenderRequest{Timeout: 5, OutputFormat: "text"}
	r.Defaults()
	assert.Equal(t, 5, r.Timeout)
	assert.Equal(t, "text", r.OutputFormat)
}
