package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cppla/liveboard/config"
	"github.com/cppla/liveboard/scoreboard"
	"github.com/cppla/liveboard/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced by the HTTP middleware; the websocket endpoint is public
	// read-only data, so cross-origin reads are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LeaderboardController serves leaderboard reads: a snapshot endpoint and a
// websocket feed of coalesced updates.
type LeaderboardController struct {
	store  scoreboard.Store
	caster *scoreboard.Broadcaster
}

// NewLeaderboardController creates a LeaderboardController.
func NewLeaderboardController(store scoreboard.Store, caster *scoreboard.Broadcaster) *LeaderboardController {
	return &LeaderboardController{store: store, caster: caster}
}

// GetLeaderboard returns the current top-N entries with ranks.
func (l *LeaderboardController) GetLeaderboard(ctx *gin.Context) {
	cfg := config.Get()
	limit := cfg.LeaderboardTopN
	if v, err := parsePositiveInt(ctx.Query("limit")); err == nil && v > 0 {
		limit = minInt(v, 100)
	}

	entries, err := l.store.TopN(ctx.Request.Context(), limit)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load leaderboard")
		return
	}

	ranked := make([]scoreboard.RankedEntry, 0, len(entries))
	for i, e := range entries {
		ranked = append(ranked, scoreboard.RankedEntry{
			Rank:      i + 1,
			UserID:    e.UserID,
			Username:  e.Username,
			Score:     e.Score,
			UpdatedAt: e.UpdatedAt,
		})
	}
	utils.Success(ctx, ranked)
}

// Live upgrades to a websocket and streams leaderboard snapshots: one on
// connect, then one per broadcast flush while the board keeps changing.
func (l *LeaderboardController) Live(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	sub := l.caster.Subscribe()

	go func() {
		defer sub.Close()
		defer conn.Close()

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		// Drain control frames; any read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case snap, ok := <-sub.C:
				if !ok {
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(snap); err != nil {
					sub.Close()
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					sub.Close()
					return
				}
			}
		}
	}()
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}
