// One-shot queue drain. Runs a single reconciliation pass synchronously
// and exits non-zero when the pass could not complete. Meant for cron or
// for an operator shelled into a terminal whose queue is stuck.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/connectivity"
	"bitbucket.org/mmdatafocus/pos_sync_core/inventory"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/possync"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
	"bitbucket.org/mmdatafocus/pos_sync_core/remote"
)

func main() {
	logger := config.GetLogger()
	ctx := context.Background()

	config.ConnectLocalDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	remoteClient, err := remote.NewClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "remote"}).Error(err.Error())
		os.Exit(1)
	}
	if err := remoteClient.Health(ctx); err != nil {
		logger.WithFields(logrus.Fields{"field": "remote"}).Error("backend unreachable: " + err.Error())
		os.Exit(1)
	}

	store := queue.NewStore(db)
	monitor := connectivity.NewMonitor(remoteClient, logger, 0)
	monitor.ProbeOnce(ctx)

	engine := possync.NewEngine(
		store,
		remoteClient,
		inventory.NewProjection(remoteClient, logger),
		remote.NewUploader(),
		possync.NewDBAudit(db),
		monitor,
		logger,
	)

	if err := engine.Sync(ctx, models.SyncTriggeredManual); err != nil {
		logger.WithFields(logrus.Fields{"field": "sync"}).Error(err.Error())
		os.Exit(1)
	}

	run, err := engine.LastRun(ctx)
	if err != nil || run == nil {
		os.Exit(0)
	}
	fmt.Printf("status=%s synced=%d errors=%d duration_ms=%d\n",
		run.Status, run.RecordsSynced, run.ErrorCount, run.DurationMs)
	if run.Status == models.SyncRunStatusFailed {
		os.Exit(1)
	}
}
