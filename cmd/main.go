package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/config"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/feed"
	"github.com/weiawesome/sticker-chat/internal/handler"
	"github.com/weiawesome/sticker-chat/internal/presence"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/internal/service"
	"github.com/weiawesome/sticker-chat/internal/upload"
	"github.com/weiawesome/sticker-chat/pkg/database"
	pkglog "github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/pubsub"
	"github.com/weiawesome/sticker-chat/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting sticker-chat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db,
		&domain.MessageModel{},
		&domain.StickerModel{},
		&domain.UserModel{},
	); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}

	// Blob store
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create blob store")
	}

	// Event bus + change feed
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pubsub")
	}
	defer bus.Close()

	changeFeed := feed.New(bus, cfg.Feed)
	defer changeFeed.Close()

	// Repositories
	messageRepo := repository.NewGormMessageRepository(db, bus)
	stickerRepo := repository.NewGormStickerRepository(db, bus)
	userRepo := repository.NewGormUserRepository(db, bus)

	// Components
	chatService := service.NewChatService(messageRepo, stickerRepo)
	pipeline := upload.New(blobs, stickerRepo)
	tracker := presence.NewTracker(userRepo)

	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMiddleware := auth.NewMiddleware(authManager)

	// Router
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	httpHandler := handler.NewHandler(chatService, pipeline, tracker, authMiddleware)
	httpHandler.RegisterRoutes(router)

	wsHandler := handler.NewWSHandler(changeFeed, messageRepo, chatService, tracker, cfg)
	wsHandler.RegisterRoutes(router, authMiddleware)

	// Local blob driver doubles as the media file server.
	if cfg.Storage.Driver == "local" || cfg.Storage.Driver == "" {
		router.Static(cfg.Storage.Local.PublicPrefix, cfg.Storage.Local.BasePath)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("sticker-chat listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-gctx.Done():
		}

		changeFeed.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	logger.Info().Msg("sticker-chat stopped")
}
