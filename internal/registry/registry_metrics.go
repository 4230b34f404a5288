package registry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the connection registry.
type Metrics struct {
	Connections       *prometheus.GaugeVec
	DeviceConnections prometheus.Gauge
	SendsTotal        *prometheus.CounterVec
	SendFailuresTotal *prometheus.CounterVec
}

// NewMetrics registers and returns registry metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alertaraven_connections",
			Help: "Currently registered connections by role.",
		}, []string{"role"}),
		DeviceConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertaraven_device_connections",
			Help: "Devices with a live affine connection.",
		}),
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_sends_total",
			Help: "Successful pushes by role and message type.",
		}, []string{"role", "type"}),
		SendFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_send_failures_total",
			Help: "Failed pushes by role and message type.",
		}, []string{"role", "type"}),
	}

	reg.MustRegister(
		m.Connections,
		m.DeviceConnections,
		m.SendsTotal,
		m.SendFailuresTotal,
	)

	return m
}
