package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"offlinegw/internal/offlinegw"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway in front of the configured origin",
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := offlinegw.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	offlinegw.InitLogger(cfg.Logging.Level)

	svc, err := offlinegw.NewService(cfg)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		logrus.WithError(err).Warn("no release installed, passing requests through to origin")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("offlinegw listening on %s, origin=%s", addr, cfg.Server.Origin)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("server error")
			stop()
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case <-hup:
			next, err := offlinegw.LoadConfig(configPath)
			if err != nil {
				logrus.WithError(err).Error("reload config")
				continue
			}
			if err := svc.Upgrade(ctx, next); err != nil {
				logrus.WithError(err).Error("upgrade failed, keeping current release")
			}
		}
	}
}
