// Package main provides msigbridged, the multisig wallet coordination daemon.
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opsbridge/msigbridge/internal/apperror"
	"github.com/opsbridge/msigbridge/internal/auth"
	"github.com/opsbridge/msigbridge/internal/config"
	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/internal/filestore"
	"github.com/opsbridge/msigbridge/internal/httpapi"
	"github.com/opsbridge/msigbridge/internal/storage"
	"github.com/opsbridge/msigbridge/pkg/hashutil"
	"github.com/opsbridge/msigbridge/pkg/logging"
)

var version = "0.1.0-dev"

const (
	filesDirName = "files"
	logsDirName  = "logs"
	dbFileName   = "rgb_multisig_bridge_db"
)

func main() {
	var (
		port        = flag.Uint("daemon-listening-port", 3001, "listening port of the daemon")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("msigbridged %s\n", version)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: msigbridged [flags] <app-directory-path>")
		os.Exit(1)
	}
	appDir := flag.Arg(0)

	if err := run(appDir, uint16(*port)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(appDir string, port uint16) error {
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return apperror.IO(err)
	}

	if !hashutil.PortAvailable(port) {
		return apperror.UnavailablePort(port)
	}

	cfg, err := config.Load(appDir)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logDir := filepath.Join(appDir, logsDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return apperror.IO(err)
	}
	log, err := logging.NewDualSink(logDir, "msigbridge", cfg.LogLevel)
	if err != nil {
		return apperror.IO(err)
	}
	log.Info("starting msigbridged", "version", version, "app_dir", appDir, "port", port)

	filesDir := filepath.Join(appDir, filesDirName)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return apperror.IO(err)
	}
	files, err := filestore.New(filesDir)
	if err != nil {
		return apperror.IO(err)
	}

	store, err := storage.New(&storage.Config{
		AppDir:   appDir,
		PoolSize: len(cfg.CosignerXpubs),
	})
	if err != nil {
		return apperror.Database(err)
	}
	defer store.Close()

	cosigners, err := reconcileStartupState(store, cfg)
	if err != nil {
		return err
	}

	rootKeyBytes, err := hashutil.DecodeHex32(cfg.RootPublicKey)
	if err != nil {
		return apperror.InvalidRootKey()
	}
	rootKey := ed25519.PublicKey(rootKeyBytes[:])
	xpubToIdx, _ := config.XpubIndexMaps(cfg.CosignerXpubs)
	resolver := auth.NewResolver(rootKey, xpubToIdx)

	coord := coordinator.New(coordinator.Config{
		Store:            store,
		Files:            files,
		Log:              log,
		Cosigners:        cosigners,
		ThresholdColored: cfg.ThresholdColored,
		ThresholdVanilla: cfg.ThresholdVanilla,
	})

	server := httpapi.New(httpapi.Config{
		Coordinator: coord,
		Resolver:    resolver,
		Versions: httpapi.VersionInfo{
			Min:     config.MinRgbLibVersion,
			Max:     config.MaxRgbLibVersion,
			Current: cfg.RgbLibVersion,
		},
		Log: log,
	})

	addr := fmt.Sprintf(":%d", port)
	if err := server.Start(addr); err != nil {
		return apperror.UnavailablePort(port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	log.Info("goodbye")

	return nil
}

// reconcileStartupState seeds the database on a daemon's very first start,
// or validates the on-disk state still matches config.toml on every restart
// (§2 and §6 of SPEC_FULL.md): thresholds and the cosigner set are fixed for the
// lifetime of a deployment.
func reconcileStartupState(store *storage.Storage, cfg *config.AppConfig) ([]storage.Cosigner, error) {
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, apperror.Database(err)
	}
	defer tx.Rollback()

	dbConfig, err := storage.LoadConfig(ctx, tx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cosigners, err := storage.SeedFirstStart(ctx, tx, storage.ConfigRow{
			ThresholdColored: cfg.ThresholdColored,
			ThresholdVanilla: cfg.ThresholdVanilla,
		}, cfg.CosignerXpubs)
		if err != nil {
			return nil, apperror.Database(err)
		}
		if len(cosigners) != len(cfg.CosignerXpubs) {
			return nil, apperror.InconsistentState("cosigner row count mismatch after seeding")
		}
		if err := tx.Commit(); err != nil {
			return nil, apperror.Database(err)
		}
		return cosigners, nil

	case err != nil:
		return nil, apperror.Database(err)
	}

	if dbConfig.ThresholdColored != cfg.ThresholdColored || dbConfig.ThresholdVanilla != cfg.ThresholdVanilla {
		return nil, apperror.InvalidThreshold("cannot change threshold on already configured service")
	}

	dbCosigners, err := storage.LoadCosigners(ctx, tx)
	if err != nil {
		return nil, apperror.Database(err)
	}
	if !sameXpubSet(dbCosigners, cfg.CosignerXpubs) {
		return nil, apperror.CannotChangeCosigners()
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.Database(err)
	}
	return dbCosigners, nil
}

func sameXpubSet(dbCosigners []storage.Cosigner, configXpubs []string) bool {
	if len(dbCosigners) != len(configXpubs) {
		return false
	}
	dbSet := make(map[string]bool, len(dbCosigners))
	for _, c := range dbCosigners {
		dbSet[c.Xpub] = true
	}
	for _, x := range configXpubs {
		if !dbSet[x] {
			return false
		}
	}
	return true
}
