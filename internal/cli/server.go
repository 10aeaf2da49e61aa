package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/logging"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed-sample", false, "store the sample quiz in Postgres on startup")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag string, seed bool) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()
	if seed {
		if err := b.seedSample(ctx); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	service := app.NewGameService(b.store, b.quizzes, b.pins, b.bus, log, app.Options{
		TickInterval: config.TTLDuration(cfg.Game.TickInterval, time.Second),
		MinPlayers:   cfg.Game.MinPlayers,
	})
	defer service.Close()

	secret := cfg.Auth.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn("auth secret not configured; tokens will not survive a restart")
	}
	tokens := auth.NewIssuer(secret, config.TTLDuration(cfg.Auth.TokenTTL, 4*time.Hour))

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(service, tokens, b.limiter, log, cfg.CORS.AllowOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", finalPort).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
