package sqlite

import (
	"context"
	"time"

	"cryptofolio/internal/application/port"
)

// NotificationLog records every system notification in the local database.
// Sound and vibration have no durable trace.
type NotificationLog struct {
	repo *Repo
}

func NewNotificationLog(repo *Repo) *NotificationLog {
	return &NotificationLog{repo: repo}
}

func (n *NotificationLog) PlaySound(volume float64, d time.Duration) error { return nil }

func (n *NotificationLog) Vibrate(pattern []time.Duration) error { return nil }

func (n *NotificationLog) ShowSystemNotification(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.repo.InsertNotification(ctx, time.Now().UnixMilli(), title, body)
}

var _ port.Notifier = (*NotificationLog)(nil)
