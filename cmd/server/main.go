package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	envFile := flag.String("env-file", ".env", "path to .env file (ignored if missing)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load config", logger.Error(err))
		os.Exit(1)
	}

	log, err := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to create logger", logger.Error(err))
		os.Exit(1)
	}
	slog.SetDefault(log)

	log.Info("starting chat relay",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("tcp_addr", cfg.TCPAddr),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("chat relay stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("chat relay stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var filters []broker.Filter
	if cfg.MaxMessageLength > 0 {
		filters = append(filters, broker.LengthFilter{MaxLength: cfg.MaxMessageLength})
	}

	b := broker.New(broker.WithLogger(log), broker.WithFilters(filters...))
	go b.Run()

	srv := server.New(b, *cfg, log)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := srv.ListenAndServeTCP(cfg.TCPAddr)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = server.CreateServer(cfg.HTTPAddr, srv.Routes())
		eg.Go(func() error {
			log.Info("http listener started", slog.String("addr", cfg.HTTPAddr))
			err := httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		log.Info("received shutdown signal")

		if httpServer != nil {
			_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("adapter shutdown incomplete", logger.Error(err))
		}

		// Adapters have submitted their disconnects; Stop drains behind them.
		return b.Shutdown(cfg.ShutdownTimeout)
	})

	return eg.Wait()
}
