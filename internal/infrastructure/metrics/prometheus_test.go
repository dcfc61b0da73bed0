package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"cryptofolio/internal/application/port"
)

func scrape(t *testing.T, p *Prometheus) string {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}

func TestCountersExposed(t *testing.T) {
	p := NewPrometheus()
	p.PushScheduled()
	p.PushScheduled()
	p.PushCompleted(true)
	p.RemoteEvent(port.RemoteGuarded)
	p.AlertTriggered("above")
	p.AlertDeactivated()
	p.NotificationFired()
	p.FetchFailed("cryptocompare")

	out := scrape(t, p)
	for _, want := range []string{
		"cryptofolio_sync_push_scheduled_total 2",
		`cryptofolio_sync_push_completed_total{ok="true"} 1`,
		`cryptofolio_sync_remote_events_total{outcome="guarded"} 1`,
		`cryptofolio_alerts_triggered_total{type="above"} 1`,
		"cryptofolio_alerts_deactivated_total 1",
		"cryptofolio_notifications_fired_total 1",
		`cryptofolio_market_fetch_failures_total{provider="cryptocompare"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}
