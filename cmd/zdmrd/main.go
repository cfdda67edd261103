// Command zdmrd is the Z-DMR download daemon: it opens the persistence
// store, starts the Engine and Progress Bus, and serves the loopback
// control API until terminated. Grounded on cmd/warpd/main.go's
// minimal wiring shape (open dependencies, register, start, exit on
// error).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/zdmr/zdmr/internal/controlapi"
	"github.com/zdmr/zdmr/internal/daemon"
	"github.com/zdmr/zdmr/internal/zlog"
	"github.com/zdmr/zdmr/pkg/zdmr"
	"github.com/zdmr/zdmr/pkg/zdmr/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zdmrd:", err)
		os.Exit(1)
	}
}

func run() error {
	configDir, err := resolveConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}

	logger, err := zlog.New(filepath.Join(configDir, "logs"))
	if err != nil {
		return fmt.Errorf("open logger: %w", err)
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, filepath.Join(configDir, "zdmr.sqlite3"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	settings, err := db.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	bus := zdmr.NewBus()
	go bus.Run()

	limiter := zdmr.NewLimiter(settings.GlobalBandwidthLimitBps)
	engine := zdmr.NewEngine(zdmr.EngineOpts{
		MaxConcurrent: zdmr.DefaultMaxConcurrent,
		Limiter:       limiter,
		Store:         db,
		Progress:      bus,
		Logger:        logger,
		TempDir:       configDir,
	})

	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover in-flight downloads: %w", err)
	}

	token, err := db.Token(ctx)
	if err != nil {
		return fmt.Errorf("load api token: %w", err)
	}
	api := controlapi.New(engine, bus, token)

	port := 0
	if v, err := db.GetSetting(ctx, store.KeyLocalAPIPort); err == nil {
		if p, perr := strconv.Atoi(v); perr == nil {
			port = p
		}
	}
	r := daemon.New(&daemon.Config{
		ServiceName: daemon.DefaultServiceName,
		DisplayName: daemon.DefaultDisplayName,
		Port:        port,
		ConfigDir:   configDir,
	}, &daemon.Dependencies{
		Handler: api,
		ShutdownFunc: func() error {
			engine.Stop()
			bus.Stop()
			return nil
		},
	})

	logger.Info("zdmrd starting, config dir %s", configDir)
	err = r.Start(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("zdmrd stopped")
	return nil
}

// resolveConfigDir honors ZDMR_CONFIG_DIR, falling back to
// os.UserConfigDir()/zdmr (§[AMBIENT] Configuration).
func resolveConfigDir() (string, error) {
	if dir := os.Getenv("ZDMR_CONFIG_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "zdmr")
	return dir, os.MkdirAll(dir, 0o755)
}
