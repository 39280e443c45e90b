package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	oceep "github.com/MegaGrindStone/oceep-web-ui"
	"github.com/MegaGrindStone/oceep-web-ui/internal/config"
	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/handlers"
)

const errLoggerKey = "err"

func main() {
	cfgDir, err := config.Dir()
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(cfgDir)
	if err != nil {
		log.Fatal(err)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	provider, err := cfg.Provider(ctx, logger)
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}

	imageGen, err := cfg.ImageGenerator(ctx, logger)
	if err != nil {
		if !errors.Is(err, config.ErrImageUnsupported) {
			return fmt.Errorf("error creating image generator: %w", err)
		}
		logger.Info("Image generation is disabled")
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer store.Close()

	library, err := conversation.Open(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("error restoring chats: %w", err)
	}

	m, err := handlers.NewMain(provider, imageGen, library, logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	handler, err := routes(m)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Streaming replies are stopped before the SSE server says goodbye.
	srv.RegisterOnShutdown(func() {
		library.StopAll()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	return serve(srv, logger)
}

func routes(m handlers.Main) (http.Handler, error) {
	staticFS, err := fs.Sub(oceep.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/", m.HandleHome)

	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/stop", m.HandleStop)
	mux.HandleFunc("/chats/regenerate", m.HandleRegenerate)
	mux.HandleFunc("/chats/rename", m.HandleRename)
	mux.HandleFunc("/chats/delete", m.HandleDelete)

	// Both endpoints subscribe to the chat list; /sse/messages also to the message_id topic.
	mux.HandleFunc("/sse/messages", m.HandleSSE)
	mux.HandleFunc("/sse/chats", m.HandleSSE)

	return mux, nil
}

// serve runs srv until it fails or the process receives an interrupt or terminate signal, then
// shuts it down gracefully.
func serve(srv *http.Server, logger *slog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
		if err := srv.Close(); err != nil {
			return fmt.Errorf("forcing server close: %w", err)
		}
	}
	return nil
}
