// Dumps the local durable queue with reconciliation progress. Read-only;
// safe to run while the service is up.
package main

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
)

func main() {
	config.ConnectLocalDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	store := queue.NewStore(db)
	snap, err := store.ListAll(context.Background())
	if err != nil {
		fmt.Println("queue unreadable:", err)
		return
	}

	fmt.Printf("pending: sales=%d expenses=%d purchases=%d total=%d\n\n",
		len(snap.Sales), len(snap.Expenses), len(snap.Purchases), snap.Total())

	dump := func(records []models.PendingRecord) {
		for _, rec := range records {
			remoteId := "-"
			if rec.RemoteId != nil {
				remoteId = *rec.RemoteId
			}
			lastError := ""
			if rec.LastError != nil {
				lastError = " last_error=" + *rec.LastError
			}
			fmt.Printf("[%s] id=%d by=%s at=%s attempts=%d remote_id=%s items_synced=%d stock_applied=%d%s\n",
				rec.Kind, rec.ID, rec.CreatedBy, rec.LogicalTimestamp,
				rec.Attempts, remoteId, rec.ItemsSynced, rec.StockApplied, lastError)
		}
	}
	dump(snap.Sales)
	dump(snap.Expenses)
	dump(snap.Purchases)
}
