package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-assess/internal/api/http"
	"github.com/mind-engage/mindengage-assess/internal/audit"
	authmw "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/catalog"
	"github.com/mind-engage/mindengage-assess/internal/config"
	"github.com/mind-engage/mindengage-assess/internal/db"
	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/grading"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "assessd",
		Short:        "Timed exam attempt service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, seedCmd(), sweepCmd(), eventsCmd(), hashPasswordCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the deadline sweeper",
		RunE:  runServe,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load exams and questions from a YAML catalog",
		RunE:  runSeed,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue attempts once and exit",
		RunE:  runSweep,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events ATTEMPT_ID",
		Short: "Print the audit trail of an attempt as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash for admin-pass-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := authmw.HashPassword(args[0])
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}

// loadConfig reads .env, flags, ASSESS_* variables and assess.yaml, then
// installs the default logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	v := config.NewViper(cmd.Flags())
	setupLogging(v.GetString("log-level"), v.GetString("log-format"))
	return config.FromViper(v)
}

func setupLogging(level, format string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, *exam.SQLStore, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	dbh, err := db.Open(openCtx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return dbh, exam.NewSQLStore(dbh, cfg.DBDriver), nil
}

func seedCatalog(ctx context.Context, path string, w exam.CatalogWriter) error {
	f, err := catalog.Load(path)
	if err != nil {
		return err
	}
	n, err := f.Seed(ctx, w)
	if err != nil {
		return err
	}
	slog.Info("catalog seeded", "path", path, "exams", n)
	return nil
}

func newEngine(cfg config.Config, dbh *sql.DB, store *exam.SQLStore) *engine.Engine {
	return engine.New(store, store,
		engine.WithLogger(slog.Default()),
		engine.WithAuditLog(audit.NewEventRepo(dbh)),
		engine.WithGrader(newGrader(cfg)),
	)
}

func newGrader(cfg config.Config) grading.Grader {
	if cfg.ShortAnswerMaxEdit < 0 {
		return grading.NewDefaultGrader()
	}
	return grading.NewDefaultGrader(grading.WithShortAnswerMatching(cfg.ShortAnswerMaxEdit))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbh, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer dbh.Close()

	if cfg.CatalogPath != "" {
		if err := seedCatalog(ctx, cfg.CatalogPath, store); err != nil {
			return err
		}
	}

	eng := newEngine(cfg, dbh, store)
	sweeper := engine.NewSweeper(eng, cfg.SweepInterval, cfg.GradeWorkers)
	authSvc := authmw.NewAuthService(authmw.Options{
		Secret:        cfg.AuthSecret,
		TTL:           cfg.TokenTTL,
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		DevLogin:      cfg.Mode == config.ModeOffline,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	api.Mount(r, eng, authSvc, dbh.PingContext)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		slog.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.CatalogPath == "" {
		return errors.New("seed: --catalog is required")
	}
	dbh, store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer dbh.Close()
	return seedCatalog(cmd.Context(), cfg.CatalogPath, store)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbh, store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer dbh.Close()

	sweeper := engine.NewSweeper(newEngine(cfg, dbh, store), cfg.SweepInterval, cfg.GradeWorkers)
	stats, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	slog.Info("sweep finished", "expired", stats.Expired, "graded", stats.Graded, "failed", stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("sweep: %d attempts could not be processed", stats.Failed)
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbh, _, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer dbh.Close()

	events, err := audit.NewEventRepo(dbh).List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
