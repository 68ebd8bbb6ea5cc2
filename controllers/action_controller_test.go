package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/liveboard/middleware"
	"github.com/cppla/liveboard/scoreboard"
	"github.com/cppla/liveboard/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type actionFixture struct {
	router *gin.Engine
	tokens *scoreboard.TokenService
}

// newActionFixture builds a router with the auth middleware replaced by a stub
// that injects the given identity, so only this package's behavior is tested.
func newActionFixture(t *testing.T, userID uint, username string) *actionFixture {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	store := scoreboard.NewMemoryStore()
	tokens := scoreboard.NewTokenService("test-secret", nil)
	limiter := scoreboard.NewRateLimiter(time.Minute, 10)
	caster := scoreboard.NewBroadcaster(store, 10, time.Second)
	coord := scoreboard.NewCoordinator(store, tokens, limiter, caster, nil, scoreboard.CoordinatorConfig{
		ScoreIncrement: 10,
		CompletionMin:  time.Second,
		CompletionMax:  300 * time.Second,
	}, nil)

	ac := NewActionController(nil, tokens, coord)

	r := gin.New()
	identify := func(ctx *gin.Context) {
		ctx.Set(middleware.ContextUserIDKey, userID)
		ctx.Set(middleware.ContextUsernameKey, username)
	}
	r.POST("/actions/token", identify, ac.RequestToken)
	r.POST("/actions/complete", identify, ac.CompleteAction)

	return &actionFixture{router: r, tokens: tokens}
}

func (f *actionFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) utils.JSONResponse {
	t.Helper()
	var resp utils.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequestTokenEndpoint(t *testing.T) {
	f := newActionFixture(t, 1, "alice")

	w := f.post(t, "/actions/token", gin.H{"action_type": "quiz"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["token"])
	assert.Equal(t, "quiz", data["action_type"])
	assert.NotEmpty(t, data["expires_at"])
}

func TestRequestTokenUnknownActionType(t *testing.T) {
	f := newActionFixture(t, 1, "alice")

	w := f.post(t, "/actions/token", gin.H{"action_type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40011, decodeResponse(t, w).Code)
}

func TestCompleteActionEndpoint(t *testing.T) {
	f := newActionFixture(t, 1, "alice")

	w := f.post(t, "/actions/token", gin.H{"action_type": "quiz"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeResponse(t, w).Data.(map[string]any)["token"].(string)

	w = f.post(t, "/actions/complete", gin.H{"token": token, "completion_ms": 5000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, float64(10), data["new_score"])
	assert.Equal(t, float64(1), data["rank"])

	// replaying the token maps to 409 with the already-used business code
	w = f.post(t, "/actions/complete", gin.H{"token": token, "completion_ms": 5000})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40920, decodeResponse(t, w).Code)
}

func TestCompleteActionErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		completionMs int64
		wantStatus   int
		wantCode     int
	}{
		{"too fast", 100, http.StatusUnprocessableEntity, 42220},
		{"too slow", 400000, http.StatusUnprocessableEntity, 42220},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newActionFixture(t, 1, "alice")

			w := f.post(t, "/actions/token", gin.H{"action_type": "quiz"})
			require.Equal(t, http.StatusOK, w.Code)
			token := decodeResponse(t, w).Data.(map[string]any)["token"].(string)

			w = f.post(t, "/actions/complete", gin.H{"token": token, "completion_ms": tc.completionMs})
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantCode, decodeResponse(t, w).Code)
		})
	}
}

func TestCompleteActionUnknownToken(t *testing.T) {
	f := newActionFixture(t, 1, "alice")

	w := f.post(t, "/actions/complete", gin.H{"token": "garbage", "completion_ms": 5000})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, decodeResponse(t, w).Code)
}

func TestCompleteActionRateLimitRetryAfter(t *testing.T) {
	f := newActionFixture(t, 1, "alice")

	complete := func() *httptest.ResponseRecorder {
		w := f.post(t, "/actions/token", gin.H{"action_type": "quiz"})
		require.Equal(t, http.StatusOK, w.Code)
		token := decodeResponse(t, w).Data.(map[string]any)["token"].(string)
		return f.post(t, "/actions/complete", gin.H{"token": token, "completion_ms": 5000})
	}

	for i := 0; i < 10; i++ {
		w := complete()
		require.Equal(t, http.StatusOK, w.Code, fmt.Sprintf("completion %d: %s", i+1, w.Body.String()))
	}

	w := complete()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, 42920, resp.Code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	retry, ok := data["retry_after_ms"].(float64)
	require.True(t, ok)
	assert.Positive(t, retry)
}
