package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/spf13/cobra"

	"github.com/handsomefox/tvratings/internal/auth"
	"github.com/handsomefox/tvratings/internal/config"
	"github.com/handsomefox/tvratings/internal/handlers"
	"github.com/handsomefox/tvratings/internal/imdb"
	"github.com/handsomefox/tvratings/internal/logger"
	"github.com/handsomefox/tvratings/internal/mail"
	"github.com/handsomefox/tvratings/internal/notify"
	"github.com/handsomefox/tvratings/internal/store"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultConfigPath = "configuration.json"
	databaseDir       = "databases"
)

func main() {
	slog.SetDefault(logger.New(slog.LevelDebug))

	root := &cobra.Command{
		Use:           "tvratings",
		Short:         "IMDb tv ratings API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), importCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", logger.Error(err))
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with daily catalog updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Build a catalog snapshot for today and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(envOr("CONFIG_PATH", defaultConfigPath))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	users := store.NewUsers(filepath.Join(databaseDir, "users"+imdb.SnapshotExt))
	if err := users.Connect(ctx); err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	defer func() {
		if err := users.Disconnect(); err != nil {
			slog.Error("closing user store", logger.Error(err))
		}
	}()

	mailer := mail.New(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Auth:     cfg.SMTPAuth,
		StartTLS: cfg.SMTPStartTLS,
		Username: cfg.EmailUsername,
		Password: cfg.EmailPassword,
		From:     cfg.EmailFrom,
	})
	dispatcher := notify.New(mailer)

	updater := imdb.NewUpdater(filepath.Join(databaseDir, "imdb"), imdb.NewImporter(""), cfg.UpdateDatabase)
	updater.SetNotifier(func(current *store.Catalog, previousPath string) {
		rows, err := current.UsersFollowingNewEpisodes(ctx, previousPath, users.Path())
		if err != nil {
			slog.Error("diffing snapshots for new episodes", logger.Error(err))
			return
		}
		dispatcher.NotifyNewEpisodes(rows)
	})
	if err := updater.Start(ctx); err != nil {
		return fmt.Errorf("starting catalog updater: %w", err)
	}
	defer func() {
		if err := updater.Stop(); err != nil {
			slog.Error("closing catalog", logger.Error(err))
		}
	}()

	app, err := handlers.New(&handlers.Config{
		Catalogs:         updater,
		Users:            users,
		Mailer:           mailer,
		Recaptcha:        auth.NewRecaptcha(cfg.RecaptchaSecret),
		JWTSecret:        cfg.JWTSecretKey,
		JWTExpireSeconds: cfg.JWTExpireSeconds,
	})
	if err != nil {
		return fmt.Errorf("initializing handlers: %w", err)
	}

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(slog.Default(), &httplog.Options{
		Level:         slog.LevelInfo,
		RecoverPanics: true,
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSHost},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))
	app.RegisterRoutes(r)

	go console(ctx, updater)

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	slog.Info("listening", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.SSLEnabled {
		err = server.ListenAndServeTLS(cfg.SSLCertificatePath, cfg.SSLPrivateKeyPath)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runImport(ctx context.Context) error {
	dir := filepath.Join(databaseDir, "imdb")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, imdb.DateString(time.Now())+imdb.SnapshotExt)

	catalog := store.NewCatalog(path)
	if err := catalog.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := catalog.Disconnect(); err != nil {
			slog.Error("closing catalog", logger.Error(err))
		}
	}()

	return imdb.NewImporter("").Run(ctx, catalog)
}

// console reads admin commands from stdin while the server runs.
func console(ctx context.Context, updater *imdb.Updater) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "test":
			slog.Info("console is working")
		case "exit":
			os.Exit(0)
		case "update":
			go updater.Rebuild(ctx)
		case "newshows":
			printNewShows(ctx, updater)
		default:
			slog.Info("unknown command", slog.String("available", "test, exit, update, newshows"))
		}
	}
}

// printNewShows lists shows present in the live snapshot but not in the one
// it replaced.
func printNewShows(ctx context.Context, updater *imdb.Updater) {
	previous := updater.PreviousPath()
	if previous == "" {
		slog.Info("no snapshot was replaced since startup")
		return
	}
	records, err := updater.Current().NewShows(ctx, previous)
	if err != nil {
		slog.Error("listing new shows", logger.Error(err))
		return
	}
	slog.Info("new shows since previous snapshot", slog.Int("count", len(records)))
	for _, record := range records {
		slog.Info("new show", slog.Any("showId", record["showId"]), slog.Any("title", record["title"]))
	}
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
