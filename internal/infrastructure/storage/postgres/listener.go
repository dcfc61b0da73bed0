package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
)

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 10 * time.Second
)

type listener struct {
	repo    *Repo
	ownerID string
	fn      func(model.ProfileRecord)

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Subscribe LISTENs on the change channel over a dedicated connection and
// re-reads the owner's row on every matching NOTIFY. The connection is
// re-established with backoff when it drops.
func (r *Repo) Subscribe(ctx context.Context, ownerID string, fn func(model.ProfileRecord)) (port.Subscription, error) {
	conn, err := r.listen(ctx)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &listener{repo: r, ownerID: ownerID, fn: fn, cancel: cancel, done: make(chan struct{})}
	go l.loop(lctx, conn)
	return l, nil
}

func (r *Repo) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (l *listener) loop(ctx context.Context, conn *pgx.Conn) {
	defer close(l.done)
	backoff := listenMinBackoff

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			c, err := l.repo.listen(ctx)
			if err != nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("postgres listen reconnect failed")
				backoff = minDur(backoff*2, listenMaxBackoff)
				continue
			}
			conn = c
			backoff = listenMinBackoff
			log.Info().Str("owner", l.ownerID).Msg("postgres listener reconnected")
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			_ = conn.Close(context.Background())
			conn = nil
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn().Err(err).Msg("postgres listener dropped")
			continue
		}
		if n.Payload != l.ownerID {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rec, err := l.repo.Pull(pctx, l.ownerID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("owner", l.ownerID).Msg("re-read after notify failed")
			continue
		}
		if rec != nil {
			l.fn(*rec)
		}
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
