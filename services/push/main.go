// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/internal/config"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/push"
	"github.com/pulse/internal/startup"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()
	if *genVAPID {
		keys, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", keys.PublicKey)
		logger.Infof("VAPID_PRIVATE_KEY=%s", keys.PrivateKey)
		return
	}
	cfg := config.LoadService(":8082")
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting push service")
	addr := cfg.Addr

	keys, err := push.ResolveVAPIDKeys(cfg.VAPIDPublic, cfg.VAPIDPrivate, cfg.VAPIDKeysFile)
	if err != nil {
		logger.Warnf("VAPID: ключей нет (%v), отправка отключена", err)
	}

	ctx := context.Background()
	store, err := startup.ConnectRedis(ctx, cfg.RedisURL, 60*time.Second, "")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer store.Close()

	var publicKey string
	if keys != nil {
		publicKey = keys.PublicKey
	}
	srvPush := push.NewServer(push.NewRedisSubscriptions(store.Redis()), push.WebPushSender(keys, "pulse-push"), publicKey)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.InternalOnly(cfg.InternalSecret))
	r.Mount("/", srvPush.Routes())

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
