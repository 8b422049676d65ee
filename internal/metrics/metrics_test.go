package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ExposesGroundStationSeries(t *testing.T) {
	PacketsReceived.WithLabelValues("position").Inc()
	RadioReinits.WithLabelValues("failed").Inc()
	RadioState.Set(3)
	LinkRSSI.Set(-87)

	ts := httptest.NewServer(Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		`groundstation_packets_received_total{kind="position"}`,
		`groundstation_radio_reinit_total{result="failed"}`,
		"groundstation_radio_state 3",
		"groundstation_link_rssi_dbm -87",
		"groundstation_distance_meters",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
}
