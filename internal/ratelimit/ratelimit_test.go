package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

func TestConsumeExhaustsBucket(t *testing.T) {
	l := New(true, 5, 60*time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Consume("1.2.3.4"))
	}
	err := l.Consume("1.2.3.4")
	require.Error(t, err)
	var rle *gwerrors.RateLimitExceeded
	require.ErrorAs(t, err, &rle)
	require.Greater(t, rle.RetryAfterMs, int64(0))
}

func TestConsumeDisabledAlwaysSucceeds(t *testing.T) {
	l := New(false, 1, time.Second)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Consume("1.2.3.4"))
	}
}

func TestConsumeKeysIndependent(t *testing.T) {
	l := New(true, 1, 60*time.Second)
	require.NoError(t, l.Consume("1.1.1.1"))
	require.NoError(t, l.Consume("2.2.2.2"))
	require.Error(t, l.Consume("1.1.1.1"))
}

func TestResetClearsBucket(t *testing.T) {
	l := New(true, 1, 60*time.Second)
	require.NoError(t, l.Consume("1.1.1.1"))
	require.Error(t, l.Consume("1.1.1.1"))
	l.Reset("1.1.1.1")
	require.NoError(t, l.Consume("1.1.1.1"))
}

func TestBucketRefillsAfterDuration(t *testing.T) {
	l := New(true, 1, 10*time.Millisecond)
	require.NoError(t, l.Consume("1.1.1.1"))
	require.Error(t, l.Consume("1.1.1.1"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Consume("1.1.1.1"))
}
