package notifyd

import (
	"bytes"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"notifyd/models"
)

// Config is the public configuration surface for the Manager facade.
// It narrows and normalizes the underlying component configs; advanced
// callers can inject custom implementations via functional options on
// New.
type Config struct {
	// Identity strings handed to the platform adapters.
	AppName  string `yaml:"app_name"`
	AppID    string `yaml:"app_id"`
	BundleID string `yaml:"bundle_id"`

	// Store sharding (0 => default).
	StoreShards int `yaml:"store_shards"`

	// Image cache directory; empty selects a fresh OS temp directory.
	CacheDir string `yaml:"cache_dir"`

	// Worker cadence. Zero values select the standard defaults
	// (100ms lifecycle, 50ms delivery, 1s analytics).
	LifecycleTick time.Duration `yaml:"lifecycle_tick"`
	DeliveryTick  time.Duration `yaml:"delivery_tick"`
	AnalyticsTick time.Duration `yaml:"analytics_tick"`

	// Shutdown timing.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CancelTimeout   time.Duration `yaml:"cancel_timeout"`

	// Capability negotiation: features whose absence on a target
	// platform fails validation instead of degrading.
	CriticalFeatures          []models.Feature `yaml:"critical_features"`
	FailOnCriticalUnsupported bool             `yaml:"fail_on_critical_unsupported"`

	// Telemetry.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsBackend selects the provider: "prom" (default), "otel",
	// or "noop".
	MetricsBackend string `yaml:"metrics_backend"`
	// PrometheusListenAddr optionally exposes /metrics over HTTP
	// (e.g. ":2112"); empty means collect-only.
	PrometheusListenAddr string `yaml:"prometheus_listen_addr"`
	TracingEnabled       bool   `yaml:"tracing_enabled"`
}

// Defaults returns a Config with reasonable defaults.
func Defaults() Config {
	return Config{
		AppName:         "notifyd",
		AppID:           "notifyd.desktop",
		BundleID:        "io.notifyd.app",
		StoreShards:     0,
		LifecycleTick:   100 * time.Millisecond,
		DeliveryTick:    50 * time.Millisecond,
		AnalyticsTick:   time.Second,
		ShutdownTimeout: 30 * time.Second,
		CancelTimeout:   2 * time.Second,
		MetricsEnabled:  false,
		MetricsBackend:  "prom",
		TracingEnabled:  true,
	}
}

// configOverlay mirrors Config with pointer fields so only the keys a
// file actually sets are layered over the base; durations are parsed
// from "10s"-style strings since YAML has no native duration scalar.
type configOverlay struct {
	AppName  *string `yaml:"app_name"`
	AppID    *string `yaml:"app_id"`
	BundleID *string `yaml:"bundle_id"`

	StoreShards *int    `yaml:"store_shards"`
	CacheDir    *string `yaml:"cache_dir"`

	LifecycleTick *string `yaml:"lifecycle_tick"`
	DeliveryTick  *string `yaml:"delivery_tick"`
	AnalyticsTick *string `yaml:"analytics_tick"`

	ShutdownTimeout *string `yaml:"shutdown_timeout"`
	CancelTimeout   *string `yaml:"cancel_timeout"`

	CriticalFeatures          []models.Feature `yaml:"critical_features"`
	FailOnCriticalUnsupported *bool            `yaml:"fail_on_critical_unsupported"`

	MetricsEnabled       *bool   `yaml:"metrics_enabled"`
	MetricsBackend       *string `yaml:"metrics_backend"`
	PrometheusListenAddr *string `yaml:"prometheus_listen_addr"`
	TracingEnabled       *bool   `yaml:"tracing_enabled"`
}

// LoadFile layers YAML overrides from path on top of base, so a
// deployment can tune worker cadence, shutdown timing, and telemetry
// without code changes. Unknown keys are rejected.
func LoadFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	var overlay configOverlay
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil {
		return base, models.NewValidationError("parse config file: "+path, err)
	}

	cfg := base
	setString(&cfg.AppName, overlay.AppName)
	setString(&cfg.AppID, overlay.AppID)
	setString(&cfg.BundleID, overlay.BundleID)
	setString(&cfg.CacheDir, overlay.CacheDir)
	setString(&cfg.MetricsBackend, overlay.MetricsBackend)
	setString(&cfg.PrometheusListenAddr, overlay.PrometheusListenAddr)
	if overlay.StoreShards != nil {
		cfg.StoreShards = *overlay.StoreShards
	}
	if overlay.CriticalFeatures != nil {
		cfg.CriticalFeatures = overlay.CriticalFeatures
	}
	setBool(&cfg.FailOnCriticalUnsupported, overlay.FailOnCriticalUnsupported)
	setBool(&cfg.MetricsEnabled, overlay.MetricsEnabled)
	setBool(&cfg.TracingEnabled, overlay.TracingEnabled)

	for _, d := range []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&cfg.LifecycleTick, overlay.LifecycleTick, "lifecycle_tick"},
		{&cfg.DeliveryTick, overlay.DeliveryTick, "delivery_tick"},
		{&cfg.AnalyticsTick, overlay.AnalyticsTick, "analytics_tick"},
		{&cfg.ShutdownTimeout, overlay.ShutdownTimeout, "shutdown_timeout"},
		{&cfg.CancelTimeout, overlay.CancelTimeout, "cancel_timeout"},
	} {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return base, models.NewValidationError("parse "+d.key, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
