package b23bot

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by client, router and
// registry. A nil *Metrics records nothing.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	framesDropped     prometheus.Counter
	actionsSent       *prometheus.CounterVec
	actionFailures    *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	handlerFailures   *prometheus.CounterVec
	connectionState   prometheus.Gauge
	pluginsLoaded     prometheus.Gauge
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "b23bot",
		Name:      name,
		Help:      help,
	}, labels)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "b23bot",
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "b23bot",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	var (
		m   Metrics
		err error
	)
	m.framesReceived, err = register(reg, newCounterVec("frames_received_total", "Inbound frames by kind", []string{"kind"}), err)
	m.framesDropped, err = register(reg, newCounter("frames_dropped_total", "Inbound frames that could not be decoded"), err)
	m.actionsSent, err = register(reg, newCounterVec("actions_sent_total", "Outbound actions written to the gateway", []string{"action"}), err)
	m.actionFailures, err = register(reg, newCounterVec("action_failures_total", "Outbound actions that failed or were rejected", []string{"action"}), err)
	m.reconnectAttempts, err = register(reg, newCounter("reconnect_attempts_total", "Automatic reconnect attempts scheduled"), err)
	m.handlerFailures, err = register(reg, newCounterVec("handler_failures_total", "Event handlers that returned an error or panicked", []string{"event"}), err)
	m.connectionState, err = register(reg, newGauge("connection_state", "Current connection state (0 disconnected .. 4 failed)"), err)
	m.pluginsLoaded, err = register(reg, newGauge("plugins_loaded", "Plugins with active handlers"), err)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, prev error) (T, error) {
	if prev != nil {
		return c, prev
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) frameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) actionSent(action string) {
	if m != nil {
		m.actionsSent.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) actionFailed(action string) {
	if m != nil {
		m.actionFailures.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) handlerFailed(event string) {
	if m != nil {
		m.handlerFailures.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) setState(s ConnectionState) {
	if m != nil {
		m.connectionState.Set(float64(s))
	}
}

func (m *Metrics) setPluginsLoaded(n int) {
	if m != nil {
		m.pluginsLoaded.Set(float64(n))
	}
}
