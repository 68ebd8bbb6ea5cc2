package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/liveboard/scoreboard"
)

func newLeaderboardRouter(t *testing.T, store scoreboard.Store) *gin.Engine {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	caster := scoreboard.NewBroadcaster(store, 10, time.Second)
	lc := NewLeaderboardController(store, caster)

	r := gin.New()
	r.GET("/leaderboard", lc.GetLeaderboard)
	return r
}

func TestGetLeaderboard(t *testing.T) {
	store := scoreboard.NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Upsert(ctx, 1, "alice", 30)
	_, _ = store.Upsert(ctx, 2, "bob", 20)
	_, _ = store.Upsert(ctx, 3, "carol", 10)

	r := newLeaderboardRouter(t, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int                      `json:"code"`
		Data []scoreboard.RankedEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)

	assert.Equal(t, 1, resp.Data[0].Rank)
	assert.Equal(t, "alice", resp.Data[0].Username)
	assert.Equal(t, int64(30), resp.Data[0].Score)
	assert.Equal(t, 3, resp.Data[2].Rank)
	assert.Equal(t, "carol", resp.Data[2].Username)
}

func TestGetLeaderboardLimit(t *testing.T) {
	store := scoreboard.NewMemoryStore()
	ctx := context.Background()
	for i := uint(1); i <= 5; i++ {
		_, _ = store.Upsert(ctx, i, "user", int64(i)*10)
	}

	r := newLeaderboardRouter(t, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []scoreboard.RankedEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, int64(50), resp.Data[0].Score)
}

func TestGetLeaderboardEmpty(t *testing.T) {
	r := newLeaderboardRouter(t, scoreboard.NewMemoryStore())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int               `json:"code"`
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Code)
	assert.Empty(t, resp.Data)
}
