package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/AsimAryal/categories-game/config"
	"github.com/AsimAryal/categories-game/game"
	"github.com/AsimAryal/categories-game/storage"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(ctx *gin.Context) { ctx.String(http.StatusOK, "healthy") })

	if len(allowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{
				"Content-Type",
				"Upgrade",
				"Connection",
				"Sec-WebSocket-Key",
				"Sec-WebSocket-Version",
				"Sec-WebSocket-Extensions",
				"Sec-WebSocket-Protocol",
			},
		}))
	}

	return r
}

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if cfg.PostgresURL == "" {
		log.Fatal("Missing postgres url")
	}

	ctx := context.Background()

	repo, err := storage.NewPostgresRepo(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	coordinator := game.NewCoordinator(repo)
	if err := coordinator.Initialize(ctx); err != nil {
		log.Fatal(err)
	}

	registry := game.NewRegistry()
	server := game.NewServer(coordinator, registry, cfg.AllowedOrigins)

	sweeper := game.NewSweeper(coordinator, game.NewTickerGen(), server.HandleEviction)
	sweeperStarted := make(chan struct{})
	go sweeper.Run(ctx, sweeperStarted)
	<-sweeperStarted

	r := CreateServer(cfg.AllowedOrigins)
	r.GET("/ws", server.WebsocketHandler)
	r.GET("/rooms", server.RoomsHandler)

	if err := r.Run(cfg.Addr); err != nil {
		log.Fatal(err)
	}
}
