package web

import (
	"net/http"

	"groundstation/internal/geo"
	"groundstation/internal/telemetry"
)

// TelemetryResponse is the polled dashboard payload: the fused snapshot
// plus fields derived at read time.
type TelemetryResponse struct {
	telemetry.Snapshot
	// Timestamp is LastUpdate as Unix seconds, 0 before the first write.
	Timestamp float64 `json:"timestamp"`
	// BearingDeg points from the ground station to the vehicle.
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
}

func NewTelemetryResponse(snap telemetry.Snapshot) TelemetryResponse {
	resp := TelemetryResponse{Snapshot: snap}
	if !snap.LastUpdate.IsZero() {
		resp.Timestamp = float64(snap.LastUpdate.UnixNano()) / 1e9
	}
	if snap.VehiclePosition.Known() && snap.GroundPosition.Known() {
		b := geo.BearingDeg(snap.GroundPosition.Point(), snap.VehiclePosition.Point())
		resp.BearingDeg = &b
	}
	return resp
}

// TelemetryHandler serves the latest snapshot. It never blocks on the
// radio or the GPS receiver.
func TelemetryHandler(store *telemetry.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, NewTelemetryResponse(store.Snapshot()))
	})
}
