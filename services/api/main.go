package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"

	"github.com/pulse/internal/audioserver"
	"github.com/pulse/internal/config"
	"github.com/pulse/internal/events"
	"github.com/pulse/internal/handler"
	"github.com/pulse/internal/janitor"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/media"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/push"
	"github.com/pulse/internal/recorder"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/review"
	"github.com/pulse/internal/startup"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/storage/memory"
	"github.com/pulse/internal/streak"
	"github.com/pulse/internal/timers"
	"github.com/pulse/internal/typing"
	"github.com/pulse/internal/ws"
)

const embeddedPort = 5433

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "embedded PostgreSQL, in-memory pub/sub, X-User-Id auth")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting API service")

	ctx := context.Background()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		db, dsn, err := startup.EmbeddedPostgres(filepath.Join(".", ".pgdata"), embeddedPort)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		embeddedDB = db
		cfg.Database.URL = dsn
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool, err := startup.ConnectDB(ctx, poolCfg, 60*time.Second, "")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if err := startup.Migrate(ctx, pool); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *migrate {
		pool.Close()
		return
	}
	logger.Info("database connected, migrations applied")

	store := openStore(ctx, cfg, *dev)
	pub := events.Connect(ctx, events.Options{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange, DialTimeout: 10 * time.Second})
	clock := timers.Real()

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	storyRepo := repository.NewStoryRepository(pool)
	streakRepo := repository.NewStreakRepository(pool)

	internalSecret := os.Getenv("INTERNAL_SECRET")
	pushClient := push.NewClient(cfg.PushServiceURL, internalSecret)
	streaks := streak.NewService(streakRepo, pushClient, pub, clock, cfg.StreakLocation)
	relay := review.NewRelay(cfg.ReviewWebhookURL, cfg.ReviewTimeout, pub)

	localAudio := audioserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	var clips audioserver.ClipStore = localAudio
	if cfg.AudioServiceURL != "" {
		clips = audioserver.NewClient(cfg.AudioServiceURL, internalSecret)
	}

	mediaStore := media.New(filepath.Join(cfg.UploadDir, "media"), cfg.MaxUploadSize)

	hub := ws.NewHub(ws.Deps{
		Chats:    chatRepo,
		Messages: msgRepo,
		Users:    userRepo,
		Stories:  storyRepo,
		Streaks:  streaks,
		Clips:    clips,
		Store:    store,
		Events:   pub,
		Push:     pushClient,
		Clock:    clock,
	}, ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBuffer:     cfg.WSSendBufferSize,
		WriteTimeout:   cfg.WSWriteTimeout,
		PongTimeout:    cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		Typing: typing.Options{
			Throttle: cfg.Typing.Throttle,
			Debounce: cfg.Typing.Debounce,
			Watchdog: cfg.Typing.Watchdog,
		},
		StoryViewWindow: cfg.Story.ViewWindow,
		StoryTick:       cfg.Story.Tick,
		Recorder: recorder.Options{
			MinDuration:     cfg.Recorder.MinDuration,
			MaxDuration:     cfg.Recorder.MaxDuration,
			CancelThreshold: cfg.Recorder.CancelThreshold,
			MaxBytes:        cfg.Recorder.MaxBytes,
		},
	})

	bgCtx, bgCancel := context.WithCancel(ctx)
	var bgWg sync.WaitGroup
	bgWg.Add(2)
	go func() {
		defer bgWg.Done()
		hub.Run(bgCtx)
	}()
	go func() {
		defer bgWg.Done()
		janitor.New(janitor.Deps{
			Stories:  storyRepo,
			Messages: msgRepo,
			Moods:    userRepo,
			Media:    mediaStore,
			Hub:      hub,
			Clock:    clock,
		}, cfg.JanitorInterval).Run(bgCtx)
	}()

	userH := handler.NewUserHandler(userRepo, streaks, hub, clock)
	chatH := handler.NewChatHandler(chatRepo, userRepo, msgRepo, hub, clock)
	storyH := handler.NewStoryHandler(storyRepo, userRepo, userRepo, mediaStore, hub, pub, clock, cfg.Story.DefaultHours)
	reviewH := handler.NewReviewHandler(relay, userRepo)
	audioH := handler.NewAudioHandler(cfg, internalSecret, localAudio)
	wsH := handler.NewWSHandler(hub, userRepo, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient, cfg.PushVAPIDPublicKey)
	limiter := middleware.NewRateLimiter(store, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/client", configH.GetClientConfig)
	r.Get("/api/config/push", pushH.GetConfig)
	r.Get("/api/audio/{filename}", audioH.Serve)
	r.Get("/api/media/{filename}", func(w http.ResponseWriter, req *http.Request) {
		mediaStore.Serve(w, req, chi.URLParam(req, "filename"))
	})

	r.Group(func(r chi.Router) {
		if *dev {
			logger.Info("dev mode: X-User-Id authentication")
			r.Use(middleware.DevAuth)
			r.Use(userH.EnsureUser)
		} else {
			r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))
		}
		r.Use(limiter.Handler)

		r.Get("/api/users/me", userH.GetProfile)
		r.Put("/api/users/me/status", userH.UpdateStatus)
		r.Put("/api/users/me/mood", userH.UpdateMood)
		r.Get("/api/users/me/streak", userH.GetStreak)
		r.Get("/api/users/search", userH.SearchUsers)
		r.Get("/api/users/{id}", userH.GetUser)
		r.Get("/api/users/{id}/presence", userH.GetPresence)

		r.Get("/api/chats", chatH.GetChats)
		r.Post("/api/chats/personal", chatH.CreatePersonalChat)
		r.Get("/api/chats/{chatId}/messages", chatH.GetMessages)
		r.Get("/api/chats/{chatId}/typing", chatH.GetTyping)

		r.Post("/api/stories", storyH.CreateStory)
		r.Get("/api/stories", storyH.GetStories)
		r.Post("/api/stories/{id}/view", storyH.ViewStory)
		r.Get("/api/stories/{id}/viewers", storyH.GetViewers)
		r.Delete("/api/stories/{id}", storyH.DeleteStory)

		r.Post("/api/reviews", reviewH.Submit)
		r.Post("/api/audio/upload", audioH.Upload)
		r.Post("/api/media/upload", mediaStore.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	var errs error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, err)
	}
	bgCancel()
	bgWg.Wait()
	logger.Info("hub and janitor stopped")
	errs = multierr.Append(errs, pub.Close())
	errs = multierr.Append(errs, store.Close())
	pool.Close()
	if embeddedDB != nil {
		logger.Info("stopping embedded postgres...")
		errs = multierr.Append(errs, embeddedDB.Stop())
	}
	for _, err := range multierr.Errors(errs) {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("stopped")
}

// openStore выбирает Redis или память. В -dev и без REDIS_URL всё живёт в одном процессе.
func openStore(ctx context.Context, cfg *config.Config, dev bool) storage.Store {
	if dev || cfg.RedisURL == "" {
		logger.Info("store: in-memory (single instance)")
		return memory.New()
	}
	client, err := startup.ConnectRedis(ctx, cfg.RedisURL, 60*time.Second, "")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	return client
}
