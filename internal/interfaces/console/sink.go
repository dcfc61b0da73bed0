package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"cryptofolio/internal/application/port"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Sink 终端输出：状态快照行 + 提醒通知（终端铃声 + 彩色行）
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %s\n", colorize(ts.Format("2006-01-02 15:04:05"), ansiDim), line)
	return err
}

// PlaySound rings the terminal bell; volume and duration cannot be honored.
func (s *Sink) PlaySound(volume float64, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.w, "\a")
	return err
}

// Vibrate 终端不支持
func (s *Sink) Vibrate(pattern []time.Duration) error { return nil }

func (s *Sink) ShowSystemNotification(title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %s\n", colorize("["+title+"]", ansiBold+ansiRed), colorize(body, ansiYellow))
	return err
}

var _ port.Notifier = (*Sink)(nil)
