// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsSentTotal counts packets handed to a link
	DatagramsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktcraft_datagrams_sent_total",
			Help: "Total number of IPv4 datagrams transmitted",
		},
		[]string{"link"},
	)

	// BytesSentTotal counts bytes reported by the link, framing included
	BytesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktcraft_bytes_sent_total",
			Help: "Total number of bytes written to the link",
		},
		[]string{"link"},
	)

	// SendErrorsTotal counts failed sends by link and failure reason
	SendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktcraft_send_errors_total",
			Help: "Total number of failed sends",
		},
		[]string{"link", "reason"},
	)

	// IDsInUse tracks identification values currently leased
	IDsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pktcraft_ipv4_ids_in_use",
			Help: "Number of IPv4 identification values currently allocated",
		},
	)
)

// Recorder reports socket activity to the package collectors. The zero value
// is ready to use.
type Recorder struct{}

func (Recorder) DatagramSent(link string, bytes int) {
	DatagramsSentTotal.WithLabelValues(link).Inc()
	BytesSentTotal.WithLabelValues(link).Add(float64(bytes))
}

func (Recorder) SendFailed(link, reason string) {
	SendErrorsTotal.WithLabelValues(link, reason).Inc()
}

func (Recorder) IDsInUse(n int) { IDsInUse.Set(float64(n)) }
