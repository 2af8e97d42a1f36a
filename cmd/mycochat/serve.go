package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/mycochat"
	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/handlers"
	"github.com/MegaGrindStone/mycochat/internal/services"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, debug, err := commandConfig(cmd)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg, cfg.logger(debug))
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides the config file)")

	return cmd
}

func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	dataDir, err := cfg.dataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}

	llm, err := cfg.LLM.llm(ctx, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}
	if c, ok := llm.(io.Closer); ok {
		defer c.Close()
	}

	boltDB, err := services.NewBoltDB(filepath.Join(dataDir, "store.db"))
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer boltDB.Close()

	a := assistant.New(llm, cfg.assistantOptions(), logger)

	m, err := handlers.NewMain(a, boltDB, cfg.handlerOptions(), logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	mux, err := newMux(m)
	if err != nil {
		return err
	}

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}
	return nil
}

// newMux routes the web interface to m.
func newMux(m handlers.Main) (*http.ServeMux, error) {
	// Serve static files
	staticFS, err := fs.Sub(mycochat.StaticFS, "static")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/uploads/", m.HandleUploads)
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sse", m.HandleSSE)
	return mux, nil
}
