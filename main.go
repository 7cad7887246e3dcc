package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"finch/internal/broadcast"
	"finch/internal/config"
	"finch/internal/db"
	"finch/internal/notify"
	"finch/internal/platform"
	"finch/internal/player"
	"finch/internal/presence"
	"finch/internal/queue"
	"finch/internal/remote"
)

var version = "dev"

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	logger.Info("starting finch", "version", version)

	paths, err := config.ResolvePaths("finch")
	if err != nil {
		logger.Error("resolve app paths", "error", err)
		os.Exit(1)
	}

	settings, err := config.LoadSettings(paths.SettingsPath)
	if err != nil {
		logger.Error("load settings", "error", err)
		os.Exit(1)
	}

	sqliteDB, err := db.Bootstrap(paths.DBPath)
	if err != nil {
		logger.Error("open playback database", "error", err)
		os.Exit(1)
	}
	defer sqliteDB.Close()

	primary, err := player.NewEngine()
	if err != nil {
		logger.Error("initialize audio engine", "error", err)
		os.Exit(1)
	}
	secondary, err := player.NewEngine()
	if err != nil {
		primary.Close()
		logger.Error("initialize audio engine", "error", err)
		os.Exit(1)
	}

	queueService := queue.NewService(sqliteDB, logger)
	playerService := player.NewService(sqliteDB, queueService, primary, secondary, settings, logger)
	defer playerService.Close()

	playerService.SetNotifier(notify.NewService(logger))

	synchronizer := broadcast.NewSynchronizer(logger)
	playerService.SetSynchronizer(synchronizer)
	controller := playerService.Controller()

	platformService := platform.NewService(controller, logger)
	if err := platformService.Start(); err != nil {
		logger.Warn("desktop media integration disabled", "error", err)
	} else {
		synchronizer.Register(platformService)
		defer platformService.Stop()
	}

	var remoteServer *remote.Server
	if settings.RemoteEnabled {
		remoteServer = remote.NewServer(controller, logger)
		if err := remoteServer.Start(settings.RemoteListenAddr); err != nil {
			logger.Warn("remote control disabled", "error", err)
			remoteServer = nil
		} else {
			synchronizer.Register(remoteServer)
		}
	}

	var presenceService *presence.Service
	if settings.PresenceEnabled {
		presenceService = presence.NewService(settings.PresenceAppID, logger)
		synchronizer.Register(presenceService)
		defer presenceService.Close()
	}

	watcher := config.NewWatcher(paths.SettingsPath, playerService.ApplySettings, logger)
	if err := watcher.Start(); err != nil {
		logger.Warn("settings hot reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("received termination signal, shutting down")

	if remoteServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := remoteServer.Stop(ctx); err != nil {
			logger.Warn("stop remote server", "error", err)
		}
		cancel()
	}
}
