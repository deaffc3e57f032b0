package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosedAllowsCalls(t *testing.T) {
	b := New(Options{Threshold: 3, Timeout: time.Minute})
	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, Closed, b.State())
}

func TestOpensAtThreshold(t *testing.T) {
	b := New(Options{Threshold: 2, Timeout: time.Minute})
	boom := errors.New("boom")

	err := b.Call(func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Closed, b.State(), "below threshold stays closed")

	err = b.Call(func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Open, b.State(), "threshold reached opens the breaker")
}

func TestOpenRejectsWithoutRunningBody(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: time.Minute})
	_ = b.Call(func() error { return errors.New("boom") })
	require.Equal(t, Open, b.State())

	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	var openErr ErrOpen
	assert.ErrorAs(t, err, &openErr)
}

func TestHalfOpenAfterTimeoutElapses(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: 10 * time.Millisecond})
	_ = b.Call(func() error { return errors.New("boom") })
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, Closed, b.State(), "success in half-open closes the breaker")
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: 10 * time.Millisecond})
	_ = b.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := b.Call(func() error { return errors.New("still broken") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	b := New(Options{Threshold: 3, Timeout: time.Minute})
	_ = b.Call(func() error { return errors.New("boom") })
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())

	_ = b.Call(func() error { return errors.New("boom") })
	_ = b.Call(func() error { return errors.New("boom") })
	assert.Equal(t, Closed, b.State(), "failure count was reset by the success")
}

func TestReset(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: time.Minute})
	_ = b.Call(func() error { return errors.New("boom") })
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.False(t, b.IsOpen())
}

func TestIsOpenReflectsRecoveryEligibility(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: 10 * time.Millisecond})
	_ = b.Call(func() error { return errors.New("boom") })
	assert.True(t, b.IsOpen())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, b.IsOpen(), "timeout elapsed, eligible for half-open")
}

func TestRecordFailureWhileOpenDoesNotRestampRecoveryClock(t *testing.T) {
	b := New(Options{Threshold: 1, Timeout: 20 * time.Millisecond})
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	firstFailure := b.lastFailureTime

	// A second RecordFailure while already Open (e.g. a caller recording a
	// precheck-rejected call) must not push back lastFailureTime, or
	// continued concurrent traffic against an open breaker would delay
	// Open->HalfOpen eligibility indefinitely.
	time.Sleep(5 * time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, firstFailure, b.lastFailureTime)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, b.IsOpen(), "recovery timeout must still elapse from the original failure")
}
