// Package app wires a workspace's config, journal and collaborators into a
// running cutline service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"

	"cutline/internal/assets"
	"cutline/internal/command"
	"cutline/internal/config"
	"cutline/internal/db"
	"cutline/internal/events"
	"cutline/internal/logging"
	"cutline/internal/media"
	"cutline/internal/migrate"
	"cutline/internal/repo"
	"cutline/internal/server"
	"cutline/internal/session"
)

const shutdownTimeout = 10 * time.Second

// App is a fully wired service for one workspace.
type App struct {
	Workspace  string
	Config     *config.Config
	DB         *sql.DB
	Repo       repo.Repo
	Logger     *slog.Logger
	Dispatcher *command.Dispatcher
	Handler    http.Handler
	Webhooks   *server.Webhooks

	lock *flock.Flock
}

type Options struct {
	// LogOutput overrides stderr for the service logger.
	LogOutput io.Writer
}

// Open opens and migrates the workspace journal and builds the service from
// cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: opts.LogOutput})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	r := repo.Repo{DB: conn}

	dopts := command.Options{
		Sessions: session.NewManager(session.ManagerOptions{Config: cfg.Session(), Logger: logger}),
		Events:   r,
		Policy:   cfg.Policy(),
		Logger:   logger,
	}
	if cfg.JournalEnabled() {
		dopts.Journal = events.Writer{DB: conn}
	}
	if cfg.Media.BaseURL != "" {
		dopts.Media = media.NewHTTPResolver(cfg.Media.BaseURL, cfg.MediaTimeout(), logger)
	}
	if cfg.Assets.RegistryURL != "" {
		dopts.Registry = assets.NewHTTPRegistry(cfg.Assets.RegistryURL, cfg.AssetsTimeout(), logger)
	}
	d := command.New(dopts)

	handler, err := server.New(server.Config{
		Dispatcher: d,
		Events:     r,
		Keys:       r,
		BasePath:   cfg.Server.BasePath,
		Logger:     logger,
		Auth: server.AuthConfig{
			Disabled:               cfg.Auth.Disabled,
			JWTSecret:              cfg.Auth.JWTSecret,
			AllowLegacyAgentHeader: cfg.Auth.AllowLegacyHeader,
			DevLogin:               cfg.Auth.DevLogin,
		},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		Workspace:  workspace,
		Config:     cfg,
		DB:         conn,
		Repo:       r,
		Logger:     logger,
		Dispatcher: d,
		Handler:    handler,
		Webhooks:   server.NewWebhooks(r, cfg.Webhooks, server.WebhookOptions{Logger: logger}),
		lock:       flock.New(db.LockPath(workspace)),
	}, nil
}

// Serve listens on addr until ctx is cancelled. Only one server may hold a
// workspace at a time.
func (a *App) Serve(ctx context.Context, addr string) error {
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another cutline server is already serving %s", a.Workspace)
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.Logger.Warn("failed to release workspace lock", "error", err)
		}
	}()

	if addr == "" {
		addr = a.Config.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: a.Handler, ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Webhooks.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.Logger.Info("cutline serving", "addr", ln.Addr().String(), "base_path", a.Config.Server.BasePath, "workspace", a.Workspace)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.Logger.Info("cutline stopped")
	return nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
