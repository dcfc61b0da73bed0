// Package metrics Prometheus 实现的埋点，使用私有 Registry。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
)

const namespace = "cryptofolio"

type Prometheus struct {
	registry *prometheus.Registry

	pushScheduled     prometheus.Counter
	pushCompleted     *prometheus.CounterVec
	remoteEvents      *prometheus.CounterVec
	alertsTriggered   *prometheus.CounterVec
	alertsDeactivated prometheus.Counter
	notifications     prometheus.Counter
	fetchFailures     *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		pushScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_push_scheduled_total",
			Help:      "Debounced pushes scheduled",
		}),
		pushCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_push_completed_total",
			Help:      "Pushes finished, by outcome",
		}, []string{"ok"}),
		remoteEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_remote_events_total",
			Help:      "Remote change events, by outcome",
		}, []string{"outcome"}),
		alertsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alerts marked triggered, by type",
		}, []string{"type"}),
		alertsDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_deactivated_total",
			Help:      "Triggered alerts deactivated after retention",
		}),
		notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_fired_total",
			Help:      "Device notifications emitted",
		}),
		fetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_fetch_failures_total",
			Help:      "Market data fetch failures, by provider",
		}, []string{"provider"}),
	}
}

func (p *Prometheus) PushScheduled() { p.pushScheduled.Inc() }
func (p *Prometheus) PushCompleted(ok bool) {
	p.pushCompleted.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
func (p *Prometheus) RemoteEvent(outcome string) { p.remoteEvents.WithLabelValues(outcome).Inc() }
func (p *Prometheus) AlertTriggered(alertType string) {
	p.alertsTriggered.WithLabelValues(alertType).Inc()
}
func (p *Prometheus) AlertDeactivated() { p.alertsDeactivated.Inc() }
func (p *Prometheus) NotificationFired() { p.notifications.Inc() }
func (p *Prometheus) FetchFailed(provider string) {
	p.fetchFailures.WithLabelValues(provider).Inc()
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ port.Metrics = (*Prometheus)(nil)
