package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/api"
	"kingdoms-launcher/internal/auth"
	"kingdoms-launcher/internal/config"
	"kingdoms-launcher/internal/installer/forge"
	"kingdoms-launcher/internal/launcher"
	"kingdoms-launcher/internal/manifest"
	"kingdoms-launcher/internal/repository/sqlite"
	"kingdoms-launcher/internal/store"
)

const version = "4.2.0"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if logFile, err := openLauncherLog(cfg.Data.Dir); err != nil {
		logger.Warnf("launcher log file: %v", err)
	} else {
		logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
		defer logFile.Close()
	}
	logger.Infof("launcher backend starting, v%s", version)

	if cfg.Control.Password != "" && strings.TrimSpace(cfg.Control.JWTSecret) == "" {
		logger.Fatalf("control jwt secret is required when a control password is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	stateRepo := sqlite.NewStateRepository(db)
	if err := stateRepo.Init(ctx); err != nil {
		logger.Fatalf("init state repository: %v", err)
	}
	st := store.New(stateRepo)

	if cfg.Control.Password != "" {
		hash, err := api.HashControlPassword(cfg.Control.Password)
		if err != nil {
			logger.Fatalf("hash control password: %v", err)
		}
		if err := st.SetControlPasswordHash(ctx, hash); err != nil {
			logger.Fatalf("persist control password: %v", err)
		}
	}

	credentials := auth.NewManager(auth.Config{
		APIBase: cfg.Remote.APIBase,
		Logger:  logger,
	}, st)

	// The engine's HTTP client carries the optional-content filter so
	// the engine never needs to know mods can be toggled.
	engineClient := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &manifest.Transport{
			Host:        cfg.Remote.Host,
			FilesPrefix: "/launcher/files/",
			Enabled:     st.EnabledOptionalMods,
			Logger:      logger,
		},
	}

	orchestrator := launcher.New(launcher.Config{
		BasePath:    cfg.Data.Dir,
		Instance:    cfg.Instance.Name,
		Version:     cfg.Instance.Version,
		LoaderType:  cfg.Instance.LoaderType,
		LoaderBuild: cfg.Instance.LoaderBuild,
		ManifestURL: cfg.Remote.ManifestURL,
		APIBase:     cfg.Remote.APIBase,
		AppDataDir:  filepath.Dir(cfg.Data.Dir),
		Logger:      logger,
	}, st, forge.NewFactory(engineClient, logger))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := api.NewHandler(api.Config{
		Auth:        credentials,
		Launcher:    orchestrator,
		Store:       st,
		Logger:      logger,
		BaseCtx:     ctx,
		Version:     version,
		GameVersion: cfg.Instance.Version,
		ManifestURL: cfg.Remote.ManifestURL,
		StatusURL:   cfg.Remote.StatusURL,
		ReleaseURL:  cfg.Remote.ReleaseURL,
		JWTSecret:   cfg.Control.JWTSecret,
		TokenTTL:    time.Duration(cfg.Control.TokenTTLMinutes) * time.Minute,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")
	orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

// openLauncherLog opens the dated launcher log, rotating out files older
// than seven days.
func openLauncherLog(dataDir string) (*os.File, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, "launcher-") || !strings.HasSuffix(name, ".log") {
				continue
			}
			if info, err := entry.Info(); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, name))
			}
		}
	}

	name := "launcher-" + time.Now().Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
