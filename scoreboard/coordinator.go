package scoreboard

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/liveboard/models"
)

// CoordinatorConfig carries the tunables of the completion flow.
type CoordinatorConfig struct {
	ScoreIncrement int64
	CompletionMin  time.Duration
	CompletionMax  time.Duration
}

// Result is returned to the caller after an accepted completion.
type Result struct {
	NewScore int64 `json:"new_score"`
	Rank     int   `json:"rank"`
}

// Coordinator runs the completion flow as one logical unit: consume the token,
// run the anti-cheat checks, mutate the score, compute the new rank, notify
// subscribers. No score mutation happens before the token is consumed and both
// checks pass; that ordering is the security contract of the whole service.
type Coordinator struct {
	store   Store
	tokens  *TokenService
	limiter *RateLimiter
	caster  *Broadcaster
	db      *gorm.DB
	cfg     CoordinatorConfig
	log     *zap.SugaredLogger
}

// NewCoordinator wires the completion flow. db may be nil to skip the audit
// trail; log may be nil.
func NewCoordinator(store Store, tokens *TokenService, limiter *RateLimiter, caster *Broadcaster, db *gorm.DB, cfg CoordinatorConfig, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Coordinator{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		caster:  caster,
		db:      db,
		cfg:     cfg,
		log:     log,
	}
}

// CompleteAction settles one action token against a completion proof. A token
// spent on a proof that then fails anti-cheat stays spent: the token is
// one-shot proof of intent, not proof of success, and refunding it would
// reopen the replay window.
func (c *Coordinator) CompleteAction(ctx context.Context, userID uint, username, tokenValue string, completion time.Duration) (*Result, error) {
	consumed, err := c.tokens.Consume(ctx, tokenValue, userID)
	if err != nil {
		return nil, err
	}

	if err := CheckCompletionTime(completion, c.cfg.CompletionMin, c.cfg.CompletionMax); err != nil {
		c.log.Infow("completion rejected", "user_id", userID, "token_id", consumed.ID, "completion_ms", completion.Milliseconds())
		return nil, err
	}
	if err := c.limiter.Check(userID); err != nil {
		return nil, err
	}

	newScore, err := c.store.Upsert(ctx, userID, username, c.cfg.ScoreIncrement)
	if err != nil {
		c.log.Errorw("score upsert failed", "user_id", userID, "err", err)
		return nil, err
	}

	rank, err := c.store.Rank(ctx, userID)
	if err != nil {
		// The entry was just written; treat a missing rank as a store fault.
		c.log.Errorw("rank lookup failed", "user_id", userID, "err", err)
		return nil, err
	}

	c.audit(consumed, userID, completion, newScore)
	c.caster.Publish()

	return &Result{NewScore: newScore, Rank: rank}, nil
}

// audit persists the accepted action, best-effort. A failed insert never fails
// the completion.
func (c *Coordinator) audit(consumed *ConsumedToken, userID uint, completion time.Duration, newScore int64) {
	if c.db == nil {
		return
	}
	rec := models.ActionRecord{
		UserID:       userID,
		ActionType:   consumed.ActionType,
		TokenID:      consumed.ID,
		CompletionMs: completion.Milliseconds(),
		PointsEarned: int(c.cfg.ScoreIncrement),
		NewScore:     newScore,
	}
	if err := c.db.Create(&rec).Error; err != nil {
		c.log.Warnw("action audit insert failed", "user_id", userID, "err", err)
	}
}
