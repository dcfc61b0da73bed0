package port

// Metrics 同步与提醒引擎的计数埋点
type Metrics interface {
	PushScheduled()
	PushCompleted(ok bool)
	RemoteEvent(outcome string)
	AlertTriggered(alertType string)
	AlertDeactivated()
	NotificationFired()
	FetchFailed(provider string)
}

// Remote event outcomes.
const (
	RemoteApplied    = "applied"
	RemoteGuarded    = "guarded"
	RemoteUnchanged  = "unchanged"
	RemoteBeforeInit = "before_init"
)

type NoopMetrics struct{}

func (NoopMetrics) PushScheduled() {}
func (NoopMetrics) PushCompleted(bool) {}
func (NoopMetrics) RemoteEvent(string) {}
func (NoopMetrics) AlertTriggered(string) {}
func (NoopMetrics) AlertDeactivated() {}
func (NoopMetrics) NotificationFired() {}
func (NoopMetrics) FetchFailed(string) {}
