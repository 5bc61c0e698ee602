package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/dmitrijs2005/plotkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/plotkeeper/internal/client/baseline"
	"github.com/dmitrijs2005/plotkeeper/internal/client/cli"
	"github.com/dmitrijs2005/plotkeeper/internal/client/client"
	"github.com/dmitrijs2005/plotkeeper/internal/client/config"
	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/client/pkgfile"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/client/services"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/client/watcher"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg := config.LoadConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.PackageDir, 0o755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}

	lock := flock.New(cfg.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another plotkeeper client is using %s", cfg.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	logger := logging.NewFileLogger(cfg.LogFile, cfg.LogLevel)

	db, err := client.InitDatabase(ctx, cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	defer db.Close()

	meta := metadata.NewSQLiteRepository(db)
	store := cache.NewStore(db)

	api, err := client.NewGRPCClient(cfg.ServerEndpointAddr, logger)
	if err != nil {
		return err
	}
	defer api.Close()
	api.SetTimeout(cfg.NetworkTimeout)

	cipher, err := session.LoadCipher(ctx, cfg.KeyFile, meta)
	if err != nil {
		return fmt.Errorf("load session key: %w", err)
	}
	sessions := session.NewManager(session.NewMetadataStore(meta), cipher, api, logger,
		session.WithExpiryMargin(cfg.ExpiryMargin))
	api.SetTokenSource(sessions)

	writer := pkgfile.NewWriter(logger)
	builder := localbundle.NewBuilder(store, meta, writer, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Sessions:  sessions,
		Remote:    api,
		Local:     builder,
		Packages:  writer,
		Cache:     store,
		Baselines: baseline.NewStore(meta),
		Meta:      meta,
		Log:       logger,
	},
		orchestrator.WithDebounce(cfg.DebounceInterval),
		orchestrator.WithPackageDir(cfg.PackageDir),
		orchestrator.WithAutoSync(cfg.AutoSync),
	)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	defer orch.Close()

	if cfg.WatchPackages {
		w, err := watcher.New(builder, writer, orch, logger, watcher.WithDebounce(cfg.DebounceInterval))
		if err != nil {
			return err
		}
		if err := w.Start(cfg.PackageDir); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	auth := services.NewAuthService(api)
	projects := services.NewProjectService(store, meta, writer, orch, cfg.PackageDir, logger)

	app := cli.NewApp(orch, auth, projects, cfg.Username, os.Stdin, os.Stdout)
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	// a pending stdin read does not observe ctx
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
