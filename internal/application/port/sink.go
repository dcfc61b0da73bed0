package port

import "time"

// Notifier is the device notification surface. Implementations that cannot
// honour a call (unsupported, permission denied) return nil.
type Notifier interface {
	PlaySound(volume float64, duration time.Duration) error
	Vibrate(pattern []time.Duration) error
	ShowSystemNotification(title, body string) error
}
