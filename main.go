package main

import (
	"time"

	"github.com/cppla/liveboard/config"
	"github.com/cppla/liveboard/models"
	"github.com/cppla/liveboard/routes"
	"github.com/cppla/liveboard/scoreboard"
	"github.com/cppla/liveboard/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.ActionRecord{})

	rdb := utils.GetRedis()

	var store scoreboard.Store
	if rdb != nil {
		store = scoreboard.NewRedisStore(rdb, "lb")
	} else {
		store = scoreboard.NewMemoryStore()
	}

	tokens := scoreboard.NewTokenService(cfg.ActionTokenSecret, rdb)
	limiter := scoreboard.NewRateLimiter(
		time.Duration(cfg.RateWindowMs)*time.Millisecond,
		cfg.RateMaxActions,
	)
	caster := scoreboard.NewBroadcaster(store, cfg.LeaderboardTopN,
		time.Duration(cfg.BroadcastIntervalMs)*time.Millisecond)
	caster.Start()

	coordinator := scoreboard.NewCoordinator(store, tokens, limiter, caster, db, scoreboard.CoordinatorConfig{
		ScoreIncrement: int64(cfg.ScoreIncrement),
		CompletionMin:  time.Duration(cfg.CompletionMinMs) * time.Millisecond,
		CompletionMax:  time.Duration(cfg.CompletionMaxMs) * time.Millisecond,
	}, utils.Sugar)

	r := routes.SetupRouter(db, routes.Core{
		Store:       store,
		Tokens:      tokens,
		Coordinator: coordinator,
		Broadcaster: caster,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, caster.Stop); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
