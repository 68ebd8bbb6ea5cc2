package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/liveboard/config"
	"github.com/cppla/liveboard/models"
	"github.com/cppla/liveboard/scoreboard"
	"github.com/cppla/liveboard/utils"
)

// ActionController handles the two-phase action flow: request a token, then
// complete the action with a proof.
type ActionController struct {
	db     *gorm.DB
	tokens *scoreboard.TokenService
	coord  *scoreboard.Coordinator
}

// NewActionController creates an ActionController.
func NewActionController(db *gorm.DB, tokens *scoreboard.TokenService, coord *scoreboard.Coordinator) *ActionController {
	return &ActionController{db: db, tokens: tokens, coord: coord}
}

// RequestToken issues a single-use action token bound to the caller.
func (a *ActionController) RequestToken(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		ActionType string `json:"action_type" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}

	cfg := config.Get()
	if !knownActionType(cfg.ActionTypes, req.ActionType) {
		utils.Error(ctx, http.StatusBadRequest, 40011, "unknown action type")
		return
	}

	ttl := time.Duration(cfg.ActionTokenTTLSec) * time.Second
	token, err := a.tokens.Issue(ctx.Request.Context(), userID, req.ActionType, ttl)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to issue action token")
		return
	}

	utils.Success(ctx, gin.H{
		"token":       token.Value,
		"action_type": token.ActionType,
		"expires_at":  token.ExpiresAt,
	})
}

// CompleteAction settles a token against a completion proof and returns the
// new score and rank. Error kinds map to distinct business codes so clients
// can tell "request a fresh token" apart from "slow down".
func (a *ActionController) CompleteAction(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		Token        string `json:"token" binding:"required"`
		CompletionMs int64  `json:"completion_ms" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid request payload")
		return
	}

	result, err := a.coord.CompleteAction(
		ctx.Request.Context(),
		userID,
		getUsername(ctx),
		req.Token,
		time.Duration(req.CompletionMs)*time.Millisecond,
	)
	if err != nil {
		writeActionError(ctx, err)
		return
	}

	utils.Success(ctx, result)
}

// MyActions lists the caller's recent accepted actions from the audit trail.
func (a *ActionController) MyActions(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	limit := 20
	if v, err := parsePositiveInt(ctx.Query("limit")); err == nil && v > 0 {
		limit = minInt(v, 100)
	}

	var records []models.ActionRecord
	if err := a.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to load actions")
		return
	}

	utils.Success(ctx, records)
}

func writeActionError(ctx *gin.Context, err error) {
	var rle *scoreboard.RateLimitError
	switch {
	case errors.Is(err, scoreboard.ErrTokenNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "action token not found")
	case errors.Is(err, scoreboard.ErrTokenExpired):
		utils.Error(ctx, http.StatusUnauthorized, 40120, "action token expired")
	case errors.Is(err, scoreboard.ErrTokenAlreadyUsed):
		utils.Error(ctx, http.StatusConflict, 40920, "action token already used")
	case errors.Is(err, scoreboard.ErrTokenUserMismatch):
		utils.Error(ctx, http.StatusForbidden, 40320, "action token bound to another user")
	case errors.Is(err, scoreboard.ErrSuspiciousTiming):
		utils.Error(ctx, http.StatusUnprocessableEntity, 42220, "completion time rejected")
	case errors.As(err, &rle):
		utils.ErrorWithData(ctx, http.StatusTooManyRequests, 42920, "action rate limit exceeded",
			gin.H{"retry_after_ms": rle.RetryAfter.Milliseconds()})
	case errors.Is(err, scoreboard.ErrInvalidDelta):
		utils.Error(ctx, http.StatusInternalServerError, 50020, "score update rejected")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to complete action")
	}
}

func knownActionType(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
