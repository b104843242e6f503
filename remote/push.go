package remote

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

// SyncService is the slice of the reconciliation engine the HTTP surface
// needs: the pending-items indicator and the manual retry affordance.
type SyncService interface {
	// TrySync starts a reconciliation pass unless one is already in
	// flight; returns whether a pass was started.
	TrySync(ctx context.Context, trigger string) bool
	PendingCounts(ctx context.Context) (map[models.RecordKind]int, error)
	LastRun(ctx context.Context) (*models.SyncRun, error)
}

// PubSubPushEnvelope is the Pub/Sub push delivery wrapper.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ChangePushHandler accepts Pub/Sub push deliveries of change events.
// Always answers 204: a bad envelope is dropped, not redelivered forever.
func ChangePushHandler(feed *ChangeFeed) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := utils.UnmarshalFromJSON(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var event ChangeEvent
		if err := utils.UnmarshalFromJSON(envelope.Message.Data, &event); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if event.Table == "" {
			c.Status(http.StatusNoContent)
			return
		}

		feed.Dispatch(event)
		c.Status(http.StatusNoContent)
	}
}

type syncStatusResponse struct {
	Pending map[models.RecordKind]int `json:"pending"`
	LastRun *models.SyncRun           `json:"lastRun"`
}

// NewRouter builds the mountable HTTP surface: sync status, manual retry,
// the change-feed push endpoint and prometheus metrics. The application
// shell decides the listen address; this core has no entry point of its
// own.
func NewRouter(svc SyncService, feed *ChangeFeed) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})

	router.GET("/sync/status", func(c *gin.Context) {
		counts, err := svc.PendingCounts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "pending counts unavailable"})
			return
		}
		lastRun, err := svc.LastRun(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync history unavailable"})
			return
		}
		c.JSON(http.StatusOK, syncStatusResponse{Pending: counts, LastRun: lastRun})
	})

	router.POST("/sync/retry", func(c *gin.Context) {
		started := svc.TrySync(c.Request.Context(), models.SyncTriggeredManual)
		c.JSON(http.StatusAccepted, gin.H{"started": started})
	})

	router.POST("/pubsub/push", ChangePushHandler(feed))

	// Direct-to-bucket receipt uploads for devices with a working
	// uplink; queued attachments still ride through the engine.
	router.POST("/receipts/upload-url", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			Mime string `json:"mime" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and mime are required"})
			return
		}
		signed, err := utils.SignReceiptUpload(c.Request.Context(), req.Name, req.Mime, 15*time.Minute)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign upload"})
			return
		}
		c.JSON(http.StatusOK, signed)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
