package main

import (
	"context"
	"os"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/database"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/event"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/hub"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/membership"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/room"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/server"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.SetTimeout(cfg.Server.ShutdownGrace.Std() + 5*time.Second)
	cleaner.Init(loggerCallback)

	fail := func(format string, v ...any) {
		logger.FatalF(format, v...)
		cleaner.Clean()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := database.OpenStore(ctx, cfg.Persistence, cfg.AppName)
	if err != nil {
		cancel()
		fail("Error occured while opening snapshot store, details: %v", err)
	}
	checker, sqlChecker, err := membership.Open(ctx, cfg.Membership)
	cancel()
	if err != nil {
		_ = store.Close(context.Background())
		fail("Error occured while opening membership source, details: %v", err)
	}

	persistence := cfg.Persistence
	persister := database.NewPersister(store, database.PersisterOptions{
		RetryInitial:    persistence.RetryInitial.Std(),
		RetryMax:        persistence.RetryMax.Std(),
		RetryMaxElapsed: persistence.RetryMaxElapsed.Std(),
		SaveTimeout:     persistence.SaveTimeout.Std(),
		MaxConcurrent:   persistence.MaxConcurrentSaves,
	})

	rc := cfg.Room
	h := hub.New(checker, persister, hub.Options{
		Room: room.Config{
			CursorTTL:    rc.CursorTTL.Std(),
			CursorRate:   rc.CursorRate,
			CursorBurst:  rc.CursorBurst,
			HistoryLimit: rc.HistoryLimit,
			DedupeSize:   rc.DedupeSize,
			MailboxSize:  rc.MailboxSize,
			MaxPoints:    rc.MaxPoints,
			ClearRoles:   rc.ClearRoles,
		},
		IdleTTL:      rc.IdleTTL.Std(),
		FlushTimeout: persistence.SaveTimeout.Std() * 2,
	})

	maintenance, err := hub.StartMaintenance(h, persister, cfg.Maintenance.CursorSweep, cfg.Maintenance.IdleSweep)
	if err != nil {
		fail("Error occured while starting maintenance, details: %v", err)
	}

	srv := server.New(cfg.AppName, cfg.Server, h, checker, store)
	if err := srv.Start(); err != nil {
		fail("Error occured while starting server, details: %v", err)
	}

	// 先停止入口, 再停房间, 最后等待快照落盘并关闭存储
	cleaner.Add(srv)
	cleaner.Add(maintenance)
	cleaner.Add(h)
	cleaner.Add(persister)
	cleaner.Add(database.StoreCloser{Store: store})
	if sqlChecker != nil {
		cleaner.Add(sqlChecker)
	}

	logger.InfoF("%s started", cfg.AppName)
	<-cleaner.Done()
	if errs := cleaner.Errors(); len(errs) > 0 {
		os.Exit(1)
	}
}
