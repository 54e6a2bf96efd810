package backends

import (
	"runtime"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/backends/linux"
	"notifyd/internal/backends/macos"
	"notifyd/internal/backends/windows"
	"notifyd/internal/imagecache"
	"notifyd/internal/sanitize"
	"notifyd/models"
)

const (
	fdoBusName    = "org.freedesktop.Notifications"
	fdoObjectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
)

// FactoryConfig carries the identity strings the platform adapters
// need: the desktop-entry / app name (Linux), the AUMID-style app id
// (Windows), and the bundle identifier (macOS).
type FactoryConfig struct {
	AppName  string
	AppID    string
	BundleID string
}

// ForCurrentOS returns the backend set present on this host, each
// wrapped in its per-backend circuit breaker, keyed by platform. An
// unsupported OS (or an unreachable session bus on Linux) yields an
// empty map; the Manager treats a missing backend for a target
// platform as a delivery failure for that platform.
func ForCurrentOS(cfg FactoryConfig, cache *imagecache.Cache, sanitizer sanitize.Sanitizer) map[models.Platform]Backend {
	out := make(map[models.Platform]Backend)
	switch runtime.GOOS {
	case "darwin":
		out[models.PlatformMacOS] = NewBreaker(macos.New(macos.DefaultClient{}, cache, sanitizer, cfg.BundleID))
	case "windows":
		out[models.PlatformWindows] = NewBreaker(windows.New(windows.PowerShellNotifier{}, sanitizer, cfg.AppID))
	case "linux":
		conn, err := dbus.SessionBus()
		if err != nil {
			return out
		}
		obj := conn.Object(fdoBusName, fdoObjectPath)
		out[models.PlatformLinux] = NewBreaker(linux.New(obj, cache, sanitizer, cfg.AppName))
	}
	return out
}
