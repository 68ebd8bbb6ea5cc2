package scoreboard

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(clock *time.Time) *TokenService {
	s := NewTokenService("test-secret", nil)
	s.now = func() time.Time { return *clock }
	return s
}

func TestTokenIssueAndConsume(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.NotEmpty(t, issued.Value)
	assert.Equal(t, clock.Add(5*time.Minute), issued.ExpiresAt)

	consumed, err := s.Consume(ctx, issued.Value, 7)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, consumed.ID)
	assert.Equal(t, "quiz", consumed.ActionType)

	// replay is rejected and the token stays spent
	_, err = s.Consume(ctx, issued.Value, 7)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestTokenConsumeUserMismatch(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)

	_, err = s.Consume(ctx, issued.Value, 8)
	assert.ErrorIs(t, err, ErrTokenUserMismatch)

	// the mismatch attempt must not have spent it for the real owner
	_, err = s.Consume(ctx, issued.Value, 7)
	assert.NoError(t, err)
}

func TestTokenConsumeExpired(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)

	clock = clock.Add(5*time.Minute + time.Second)
	_, err = s.Consume(ctx, issued.Value, 7)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenExpiryWinsOverUsed(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)
	_, err = s.Consume(ctx, issued.Value, 7)
	require.NoError(t, err)

	// past expiry a spent token reports expired, not already-used
	clock = clock.Add(6 * time.Minute)
	_, err = s.Consume(ctx, issued.Value, 7)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenTamperedValueRejected(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)

	// flip a character in the signature segment
	parts := strings.Split(issued.Value, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = s.Consume(ctx, tampered, 7)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// a token signed by someone else is likewise unknown
	other := NewTokenService("other-secret", nil)
	other.now = s.now
	forged, err := other.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)
	_, err = s.Consume(ctx, forged.Value, 7)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenUnknownValue(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	_, err := s.Consume(ctx, "not-a-token", 7)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenConcurrentConsumeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	issued, err := s.Issue(ctx, 7, "quiz", 5*time.Minute)
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(ctx, issued.Value, 7)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var okCount, usedCount int
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case assert.ErrorIs(t, err, ErrTokenAlreadyUsed):
			usedCount++
		}
	}
	assert.Equal(t, 1, okCount, "exactly one consumer may win")
	assert.Equal(t, n-1, usedCount)
}

func TestTokenSweepDropsStaleRecords(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(&clock)

	for i := 0; i < 10; i++ {
		_, err := s.Issue(ctx, 7, "quiz", time.Minute)
		require.NoError(t, err)
	}
	clock = clock.Add(time.Minute + tokenRecordGrace + time.Second)

	s.mu.Lock()
	s.sweepLocked(s.now())
	remaining := len(s.records)
	s.mu.Unlock()
	assert.Zero(t, remaining)
}
