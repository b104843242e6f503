package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
)

type stubSyncService struct {
	mu       sync.Mutex
	started  bool
	triggers []string
}

func (s *stubSyncService) TrySync(ctx context.Context, trigger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
	return s.started
}

func (s *stubSyncService) PendingCounts(ctx context.Context) (map[models.RecordKind]int, error) {
	return map[models.RecordKind]int{
		models.RecordKindSale:     2,
		models.RecordKindExpense:  0,
		models.RecordKindPurchase: 1,
	}, nil
}

func (s *stubSyncService) LastRun(ctx context.Context) (*models.SyncRun, error) {
	return &models.SyncRun{ID: 7, Status: models.SyncRunStatusSuccess}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSyncStatusEndpoint(t *testing.T) {
	router := NewRouter(&stubSyncService{}, NewChangeFeed(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp syncStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Pending[models.RecordKindSale])
	assert.Equal(t, 1, resp.Pending[models.RecordKindPurchase])
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, models.SyncRunStatusSuccess, resp.LastRun.Status)
}

func TestManualRetryEndpoint(t *testing.T) {
	svc := &stubSyncService{started: true}
	router := NewRouter(svc, NewChangeFeed(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/retry", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"started":true`)
	require.Len(t, svc.triggers, 1)
	assert.Equal(t, models.SyncTriggeredManual, svc.triggers[0])
}

func TestChangePushDispatchesToListeners(t *testing.T) {
	feed := NewChangeFeed(nil)
	var got ChangeEvent
	feed.Subscribe(func(event ChangeEvent) { got = event })

	router := NewRouter(&stubSyncService{}, feed)

	data, _ := json.Marshal(ChangeEvent{Table: "inventory", Action: "update", RowId: "p1"})
	envelope := map[string]any{
		"message":      map[string]any{"data": data, "messageId": "m-1"},
		"subscription": "pos-change-feed",
	}
	body, _ := json.Marshal(envelope)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pubsub/push", bytes.NewReader(body))
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "inventory", got.Table)
	assert.Equal(t, "p1", got.RowId)
}

func TestChangePushDropsMalformedEnvelope(t *testing.T) {
	feed := NewChangeFeed(nil)
	called := false
	feed.Subscribe(func(ChangeEvent) { called = true })

	router := NewRouter(&stubSyncService{}, feed)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pubsub/push", bytes.NewReader([]byte("not json")))
	router.ServeHTTP(w, req)

	// Always acked: Pub/Sub must not redeliver a poison message forever.
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called)
}
