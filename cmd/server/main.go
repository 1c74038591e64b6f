package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/willemschots/notekeeper/assets"
	"github.com/willemschots/notekeeper/internal"
	"github.com/willemschots/notekeeper/internal/auth"
	authdb "github.com/willemschots/notekeeper/internal/auth/db"
	"github.com/willemschots/notekeeper/internal/db"
	"github.com/willemschots/notekeeper/internal/db/migrate"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/email/mailgun"
	"github.com/willemschots/notekeeper/internal/email/postmark"
	"github.com/willemschots/notekeeper/internal/email/view"
	"github.com/willemschots/notekeeper/internal/krypto"
	"github.com/willemschots/notekeeper/internal/web"
	"github.com/willemschots/notekeeper/internal/web/sessions"
	"github.com/willemschots/notekeeper/migrations"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	readDB, writeDB, err := openDatabase(ctx, logger, cfg.db)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}

	defer func() {
		err := errors.Join(readDB.Close(), writeDB.Close())
		if err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	encryptor, err := krypto.NewEncryptor(cfg.db.encryptionKeys)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		return 1
	}

	sender, err := newEmailSender(logger, cfg.email)
	if err != nil {
		logger.Error("failed to create email sender", "error", err)
		return 1
	}

	emailSvc := email.NewService(view.NewFSRenderer(assets.EmailFS), sender, cfg.email.service)

	authSvc, err := auth.NewService(
		authdb.New(readDB, writeDB, encryptor, cfg.db.blindIndexSalt),
		emailSvc,
		func(err error) {
			logger.Error("error in auth service", "error", err)
		},
		cfg.auth,
	)
	if err != nil {
		logger.Error("failed to create auth service", "error", err)
		return 1
	}

	server := web.NewServer(&web.ServerDeps{
		Logger:       logger,
		AuthService:  authSvc,
		SessionStore: sessions.NewCookieStore(cfg.http.cookieKeys, cfg.http.server.SecureCookie),
	}, cfg.http.server)

	srv := &http.Server{
		Addr:         cfg.http.addr,
		ReadTimeout:  cfg.http.readTimeout,
		WriteTimeout: cfg.http.writeTimeout,
		IdleTimeout:  cfg.http.idleTimeout,
		Handler:      server,
	}

	// We need to run two tasks concurrently:
	// - Listen and serving of the HTTP server.
	// - Waiting for a signal to stop the server.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.http.addr,
			"baseURL", cfg.http.server.BaseURL.String(),
			"emailDriver", cfg.email.driver,
			"build", internal.BuildInfo,
		)
		// ListenAndServe always returns a non-nil error,
		// g will cancel gCtx when an error is returned, so
		// this will also stop the other goroutine.
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.http.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()

	// emails that are still being sent are bounded by the worker timeout.
	logger.Info("waiting for auth workers")
	authSvc.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped with error", "error", err)
		return 1
	}

	logger.Info("http server stopped successfully")

	return 0
}

// openDatabase opens the read and write pools for the database file,
// and migrates the database if configured to do so.
func openDatabase(ctx context.Context, logger *slog.Logger, cfg dbConfig) (*sql.DB, *sql.DB, error) {
	writeDB, err := db.OpenSQLite(cfg.file, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open write database: %w", err)
	}

	readDB, err := db.OpenSQLite(cfg.file, false)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to open read database: %w", err), writeDB.Close())
	}

	if !cfg.migrate {
		return readDB, writeDB, nil
	}

	logger.Info("attempting to migrate database", "file", cfg.file)

	migCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	ran, err := migrate.RunFS(migCtx, writeDB, migrations.FS, migrate.Metadata{
		AppVersion: internal.BuildInfo.Version(),
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to migrate database: %w", err), readDB.Close(), writeDB.Close())
	}

	for _, m := range ran {
		logger.Info("migration ran", "sequence", m.Sequence, "filename", m.Filename)
	}

	logger.Info("database migrated", "migrationsRan", len(ran))

	return readDB, writeDB, nil
}

// newEmailSender creates the sender for the configured driver.
func newEmailSender(logger *slog.Logger, cfg emailConfig) (email.Sender, error) {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	switch cfg.driver {
	case emailDriverLog:
		return email.NewLogSender(logger), nil
	case emailDriverPostmark:
		return postmark.NewSender(httpClient, cfg.postmark), nil
	case emailDriverMailgun:
		return mailgun.NewSender(httpClient, cfg.mailgun), nil
	default:
		return nil, fmt.Errorf("unknown email driver %q", cfg.driver)
	}
}
