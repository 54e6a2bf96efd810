package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelection(t *testing.T) {
	assert.IsType(t, &PrometheusProvider{}, NewProvider("prom"))
	assert.IsType(t, &PrometheusProvider{}, NewProvider("unknown"))
	assert.IsType(t, &noopProvider{}, NewProvider("noop"))
	assert.IsType(t, &otelProvider{}, NewProvider("otel"))
}

func TestPrometheusCounterExposition(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{
		Namespace: Namespace, Subsystem: "delivery", Name: "attempts_total",
		Help: "test", Labels: []string{"platform", "outcome"},
	}})
	c.Inc(1, "Linux", "success")
	c.Inc(2, "Linux", "failure")

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "notifyd_delivery_attempts_total")
	assert.Contains(t, body, `outcome="success"`)
	require.NoError(t, p.Health(context.Background()))
}

func TestPrometheusRejectsInvalidName(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "bad name"}})
	assert.IsType(t, noopCounter{}, c)
}

func TestPrometheusReusesRegisteredMetric(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	opts := GaugeOpts{CommonOpts: CommonOpts{Namespace: Namespace, Name: "store_records", Help: "x"}}
	g1 := p.NewGauge(opts)
	g2 := p.NewGauge(opts)
	g1.Set(3)
	g2.Add(1)
	require.NoError(t, p.Health(context.Background()))
}

func TestOTelProviderInstrumentsDoNotPanic(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{})
	p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "c", Labels: []string{"k"}}}).Inc(1, "v")
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "g"}})
	g.Set(5)
	g.Set(2)
	p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "h"}}).Observe(0.5)
	p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Name: "t"}})().ObserveDuration()
	require.NoError(t, p.Health(context.Background()))
}
