// Микросервис хранения и раздачи голосовых сообщений.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/internal/audioserver"
	"github.com/pulse/internal/config"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
)

func main() {
	logger.SetPrefix("audio")
	cfg := config.LoadService(":8084")
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("starting audio service: upload_dir=%s max_upload_bytes=%d", cfg.UploadDir, cfg.MaxUploadSize)

	svc := audioserver.New(cfg.UploadDir, cfg.MaxUploadSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	// Клипы из WebSocket и браузерные загрузки приходят только через API.
	r.With(middleware.InternalOnly(cfg.InternalSecret)).Post("/upload", svc.Upload)
	r.Get("/audio/{filename}", func(w http.ResponseWriter, r *http.Request) {
		svc.Serve(w, r, chi.URLParam(r, "filename"))
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("audio service listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("audio: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("audio shutdown: %v", err)
	}
	logger.Info("audio service stopped")
}
