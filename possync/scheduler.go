package possync

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
)

// StartRetryScheduler sweeps the queue on a fixed interval while online,
// catching records whose last pass failed without waiting for the next
// connectivity transition. Interval comes from SYNC_SWEEP_MINUTES
// (default 5). The TrySync guard makes overlapping triggers harmless.
func StartRetryScheduler(engine *Engine, logger *logrus.Logger) (*gocron.Scheduler, error) {
	minutes := 5
	if v := os.Getenv("SYNC_SWEEP_MINUTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			minutes = parsed
		}
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(minutes).Minutes().Do(func() {
		if !engine.Online.Online() {
			return
		}
		engine.TrySync(context.Background(), models.SyncTriggeredSystem)
	})
	if err != nil {
		return nil, err
	}
	scheduler.StartAsync()

	logger.WithFields(logrus.Fields{
		"module":        "possync",
		"sweep_minutes": minutes,
	}).Info("retry scheduler started")
	return scheduler, nil
}
