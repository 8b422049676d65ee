// Package metrics exposes ground station counters and gauges in the
// Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_packets_received_total",
		Help: "Radio packets decoded, by kind.",
	}, []string{"kind"})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_decode_errors_total",
		Help: "Radio payloads rejected by the packet codec.",
	})
	RadioReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_radio_read_errors_total",
		Help: "Transceiver receive failures.",
	})
	RadioReinits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_radio_reinit_total",
		Help: "Radio reinitializations, by result.",
	}, []string{"result"})
	RadioState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_radio_state",
		Help: "Radio lifecycle state (0 uninitialized, 1 active, 2 reinitializing, 3 unavailable).",
	})
	LinkRSSI = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_link_rssi_dbm",
		Help: "RSSI of the last received packet.",
	})
	LinkSNR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_link_snr_db",
		Help: "SNR of the last received packet.",
	})
	GroundFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_ground_fixes_total",
		Help: "Local GPS fixes merged into the telemetry store.",
	})
	DistanceMeters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_distance_meters",
		Help: "Great-circle distance between ground station and vehicle.",
	})
	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_mirror_errors_total",
		Help: "Failed writes of the snapshot mirror.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
