package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/connectivity"
	"bitbucket.org/mmdatafocus/pos_sync_core/inventory"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/possync"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
	"bitbucket.org/mmdatafocus/pos_sync_core/remote"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Local database first: the terminal must accept offline commits even
	// when the backend is unreachable.
	config.ConnectLocalDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTables(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Redis is an optional shared cache; the engine runs without it.
	config.ConnectRedisWithRetry()

	remoteClient, err := remote.NewClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "remote"}).Panic(err.Error())
	}

	store := queue.NewStore(db)
	projection := inventory.NewProjection(remoteClient, logger)
	uploader := remote.NewUploader()
	audit := possync.NewDBAudit(db)
	monitor := connectivity.NewMonitor(remoteClient, logger, 0)

	possync.InitMetrics()

	engine := possync.NewEngine(store, remoteClient, projection, uploader, audit, monitor, logger)
	engine.Locker = config.GetRedisLock()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Reconnect signal: every offline-to-online transition drains the
	// queue. The engine's guard absorbs overlapping triggers.
	monitor.OnOnline(func() {
		engine.TrySync(workerCtx, models.SyncTriggeredOnline)
	})
	go monitor.Run(workerCtx)

	// Change notifications refresh the stock projection; sales-table
	// events refresh dependent read views via the same feed.
	feed := remote.NewChangeFeed(logger)
	feed.Subscribe(func(event remote.ChangeEvent) {
		if event.Table == "inventory" || event.Table == "products" {
			if err := projection.RefreshFromRemote(workerCtx); err != nil {
				config.LogError(logger, "server.go", "main", "change-feed refresh", event, err)
			}
		}
	})
	go func() {
		if err := feed.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(logger, "server.go", "main", "change feed stopped", nil, err)
		}
	}()

	scheduler, err := possync.StartRetryScheduler(engine, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "scheduler"}).Panic(err.Error())
	}
	defer scheduler.Stop()

	// App-start check: if anything is pending and the backend answers,
	// drain before the first user interaction lands.
	go func() {
		monitor.ProbeOnce(workerCtx)
		if err := projection.RefreshFromRemote(workerCtx); err != nil {
			config.LogError(logger, "server.go", "main", "initial projection refresh", nil, err)
		}
		if !monitor.Online() {
			return
		}
		counts, err := store.CountPending(workerCtx)
		if err != nil {
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total > 0 {
			engine.TrySync(workerCtx, models.SyncTriggeredStartup)
		}
	}()

	router := remote.NewRouter(engine, feed)
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("sync core listening on port ", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so no new pass starts mid-drain; an
	// in-flight pass finishes on its own context.
	cancelWorkers()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
