package http

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, func() int { return 3 })

	m.RequestsTotal.WithLabelValues("POST", "ok").Inc()
	m.SSEStreams.Inc()
	m.BridgeCommands.WithLabelValues("navigate", "timeout").Inc()

	families := gather(t, reg)
	for _, name := range []string{
		"openmcpd_active_sessions",
		"openmcpd_requests_total",
		"openmcpd_sse_streams",
		"openmcpd_bridge_commands_total",
	} {
		if families[name] == nil {
			t.Errorf("metric %s not registered", name)
		}
	}

	sessions := families["openmcpd_active_sessions"].GetMetric()
	if len(sessions) != 1 || sessions[0].GetGauge().GetValue() != 3 {
		t.Errorf("active_sessions = %v", sessions)
	}

	reqs := families["openmcpd_requests_total"].GetMetric()
	if len(reqs) != 1 || reqs[0].GetCounter().GetValue() != 1 {
		t.Errorf("requests_total = %v", reqs)
	}
	labels := map[string]string{}
	for _, lp := range reqs[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["method"] != "POST" || labels["status"] != "ok" {
		t.Errorf("labels = %v", labels)
	}
}

func TestMetricsWithoutSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)
	m.SSEStreams.Inc()

	if families := gather(t, reg); families["openmcpd_active_sessions"] != nil {
		t.Error("active_sessions registered without a count source")
	}
}
