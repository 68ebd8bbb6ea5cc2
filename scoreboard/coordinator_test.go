package scoreboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordFixture struct {
	clock  time.Time
	store  *MemoryStore
	tokens *TokenService
	coord  *Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()

	f := &coordFixture{clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }

	f.store = NewMemoryStore()
	f.store.now = now
	f.tokens = NewTokenService("test-secret", nil)
	f.tokens.now = now
	limiter := NewRateLimiter(time.Minute, 10)
	limiter.now = now
	caster := NewBroadcaster(f.store, 10, time.Second)

	f.coord = NewCoordinator(f.store, f.tokens, limiter, caster, nil, CoordinatorConfig{
		ScoreIncrement: 10,
		CompletionMin:  time.Second,
		CompletionMax:  300 * time.Second,
	}, nil)
	return f
}

func (f *coordFixture) issue(t *testing.T, userID uint) *IssuedToken {
	t.Helper()
	issued, err := f.tokens.Issue(context.Background(), userID, "quiz", 5*time.Minute)
	require.NoError(t, err)
	return issued
}

func (f *coordFixture) score(t *testing.T, userID uint) int64 {
	t.Helper()
	score, err := f.store.Upsert(context.Background(), userID, "probe", 0)
	require.NoError(t, err)
	return score
}

func TestCompleteActionHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)
	issued := f.issue(t, 1)

	res, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.NewScore)
	assert.Equal(t, 1, res.Rank)

	// resubmitting the same token fails and changes nothing
	_, err = f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
	assert.Equal(t, int64(10), f.score(t, 1))
}

func TestCompleteActionExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)
	issued := f.issue(t, 1)

	f.clock = f.clock.Add(5*time.Minute + time.Second)
	_, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, int64(0), f.score(t, 1))
}

func TestCompleteActionFailClosedOnTiming(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)
	issued := f.issue(t, 1)

	// 100ms is below the 1s floor
	_, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrSuspiciousTiming)
	assert.Equal(t, int64(0), f.score(t, 1), "no score mutation on rejected proof")

	// the token stays consumed: a retry with a valid proof cannot reuse it
	_, err = f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestCompleteActionWrongUser(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)
	issued := f.issue(t, 1)

	_, err := f.coord.CompleteAction(ctx, 2, "bob", issued.Value, 5*time.Second)
	require.ErrorIs(t, err, ErrTokenUserMismatch)
	assert.Equal(t, int64(0), f.score(t, 2))

	// the owner can still complete it
	_, err = f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	assert.NoError(t, err)
}

func TestCompleteActionRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)

	for i := 0; i < 10; i++ {
		f.clock = f.clock.Add(time.Second)
		issued := f.issue(t, 1)
		_, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
		require.NoError(t, err, "completion %d", i+1)
	}
	assert.Equal(t, int64(100), f.score(t, 1))

	// the 11th within the window is rejected with a positive retry-after,
	// its token is spent, and the score holds
	f.clock = f.clock.Add(time.Second)
	issued := f.issue(t, 1)
	_, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	require.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Positive(t, rle.RetryAfter)
	assert.Equal(t, int64(100), f.score(t, 1))

	_, err = f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestCompleteActionRanksCompetingUsers(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t)

	issued := f.issue(t, 1)
	res, err := f.coord.CompleteAction(ctx, 1, "alice", issued.Value, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rank)

	// bob ties alice's score later, so he ranks below her
	f.clock = f.clock.Add(time.Second)
	issued = f.issue(t, 2)
	res, err = f.coord.CompleteAction(ctx, 2, "bob", issued.Value, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rank)

	// a second completion puts bob ahead
	f.clock = f.clock.Add(time.Second)
	issued = f.issue(t, 2)
	res, err = f.coord.CompleteAction(ctx, 2, "bob", issued.Value, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.NewScore)
	assert.Equal(t, 1, res.Rank)
}
