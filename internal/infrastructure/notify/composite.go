package notify

import (
	"time"

	"cryptofolio/internal/application/port"
)

// Composite fans every call out to all notifiers. Each one is attempted; the
// first error is returned.
type Composite struct {
	notifiers []port.Notifier
}

func New(notifiers ...port.Notifier) *Composite {
	// nil notifiers are allowed; filter in constructor for safety
	out := make([]port.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return &Composite{notifiers: out}
}

func (c *Composite) Len() int { return len(c.notifiers) }

func (c *Composite) PlaySound(volume float64, d time.Duration) error {
	var firstErr error
	for _, n := range c.notifiers {
		if err := n.PlaySound(volume, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Composite) Vibrate(pattern []time.Duration) error {
	var firstErr error
	for _, n := range c.notifiers {
		if err := n.Vibrate(pattern); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Composite) ShowSystemNotification(title, body string) error {
	var firstErr error
	for _, n := range c.notifiers {
		if err := n.ShowSystemNotification(title, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Notifier = (*Composite)(nil)
