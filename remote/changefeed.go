package remote

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
)

// ChangeEvent is one push notification from the backend: a row changed
// in inventory, products or sales.
type ChangeEvent struct {
	Table  string `json:"table"`
	Action string `json:"action"`
	RowId  string `json:"row_id"`
}

// ChangeFeed fans backend change notifications out to registered
// listeners. The inventory projection subscribes its refresh here, as do
// any dependent read views.
type ChangeFeed struct {
	Logger *logrus.Logger

	mu        sync.Mutex
	listeners []func(ChangeEvent)
}

func NewChangeFeed(logger *logrus.Logger) *ChangeFeed {
	return &ChangeFeed{Logger: logger}
}

// Subscribe registers a listener for change events. Listeners must
// tolerate redelivery; Pub/Sub is at-least-once.
func (f *ChangeFeed) Subscribe(fn func(ChangeEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Dispatch delivers an event to every listener. Exposed for the push
// endpoint and for tests.
func (f *ChangeFeed) Dispatch(event ChangeEvent) {
	f.mu.Lock()
	fns := make([]func(ChangeEvent), len(f.listeners))
	copy(fns, f.listeners)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

// Run consumes the change-notification subscription until ctx is done.
// Messages are always acked: a missed refresh is recovered by the next
// event or the post-pass full refresh, so redelivery buys nothing.
func (f *ChangeFeed) Run(ctx context.Context) error {
	subName := strings.TrimSpace(os.Getenv("CHANGE_FEED_SUBSCRIPTION"))
	if subName == "" {
		subName = "pos-change-feed"
	}

	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	sub := client.Subscription(subName)
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			if f.Logger != nil {
				config.LogError(f.Logger, "remote", "ChangeFeed.Run", "decode change event", string(msg.Data), err)
			}
			return
		}
		f.Dispatch(event)
	})
}
