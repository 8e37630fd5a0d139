package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/mscno/ginproc/pkg/drone"
	"github.com/mscno/ginproc/pkg/gin"
	"github.com/mscno/ginproc/pkg/keys"
	"github.com/mscno/ginproc/pkg/secrets"
	"github.com/mscno/ginproc/pkg/session"
	"github.com/mscno/ginproc/pkg/workflow"
	"github.com/mscno/ginproc/server"
)

type cli struct {
	Addr        string `help:"Listen address." env:"GINPROC_ADDR" default:":8000"`
	GinServer   string `help:"Git host base URL." env:"GIN_SERVER" required:""`
	DroneServer string `help:"CI host base URL." env:"DRONE_SERVER" required:""`
	DroneToken  string `help:"CI host bearer token." env:"DRONE_TOKEN" required:""`
	SSHDir      string `help:"Directory holding the SSH keypair." env:"GINPROC_SSH_PATH"`
	Debug       bool   `help:"Enable debug logging." env:"GINPROC_DEBUG"`
}

func main() {
	// Optional .env next to the binary, for local development.
	_ = godotenv.Load()

	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("ginproc-server"),
		kong.Description("Workflow configuration service bridging a GIN git host and a Drone CI host."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(run(flags))
}

func run(flags cli) error {
	level := slog.LevelInfo
	if flags.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	sshDir := flags.SSHDir
	if sshDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		sshDir = filepath.Join(home, "gin-proc", "ssh")
	}

	host, err := gin.NewAPIClient(gin.ClientConfig{ServerURL: flags.GinServer, Logger: logger})
	if err != nil {
		return err
	}
	ci, err := drone.NewAPIClient(drone.ClientConfig{ServerURL: flags.DroneServer, AuthToken: flags.DroneToken, Logger: logger})
	if err != nil {
		return err
	}

	store := &keys.LocalStore{Dir: sshDir}
	reconciler := keys.NewReconciler(host, store, logger)
	propagator := secrets.NewPropagator(ci, store, logger)
	pipeline := workflow.NewPipeline(host, ci, propagator, store, workflow.NewExecRunner(), logger)

	handler := server.NewHandler(host, session.NewStore(), reconciler, propagator, pipeline, logger)
	srv := server.NewServer(handler, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", flags.Addr)
		errCh <- srv.ListenAndServe(flags.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
