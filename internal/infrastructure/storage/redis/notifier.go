package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptofolio/internal/application/port"
)

// InsertNotification appends to the notification stream and publishes it for
// live consumers on other devices or services.
func (r *Repo) InsertNotification(ctx context.Context, ts int64, device, title, body string) error {
	// 1) Stream: XADD <stream> * ts device title body
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.notifyStream,
		Values: map[string]any{
			"ts_ms":  ts,
			"device": device,
			"title":  title,
			"body":   body,
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	msg, _ := json.Marshal(map[string]any{"ts_ms": ts, "device": device, "title": title, "body": body})
	return r.rdb.Publish(ctx, r.notifyChan, string(msg)).Err()
}

// StreamNotifier forwards system notifications to the Redis stream.
type StreamNotifier struct {
	repo   *Repo
	device string
}

func NewStreamNotifier(repo *Repo, device string) *StreamNotifier {
	return &StreamNotifier{repo: repo, device: device}
}

func (n *StreamNotifier) PlaySound(volume float64, d time.Duration) error { return nil }

func (n *StreamNotifier) Vibrate(pattern []time.Duration) error { return nil }

func (n *StreamNotifier) ShowSystemNotification(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.repo.InsertNotification(ctx, time.Now().UnixMilli(), n.device, title, body)
}

var _ port.Notifier = (*StreamNotifier)(nil)
