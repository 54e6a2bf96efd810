package notifyd

import (
	"notifyd/internal/backends"
	"notifyd/internal/sanitize"
	"notifyd/internal/telemetry/logging"
)

// strategies.go consolidates the primary extension point interfaces
// for easier discovery. Each alias points at the internal package that
// owns the contract; embedders program against these and inject
// implementations through the Option functions on New.

// Backend is the uniform platform adapter contract: capability
// negotiation, delivery, update, cancel, and authorization. The
// factory returns one per platform present on the host; tests inject
// fakes via WithBackends.
type Backend = backends.Backend

// BackendStats are the per-backend delivery counters exposed by the
// breaker wrapper.
type BackendStats = backends.Stats

// Sanitizer projects HTML notification bodies to plain text or Pango
// markup. The default implementation lives in internal/sanitize;
// substitute via WithSanitizer.
type Sanitizer = sanitize.Sanitizer

// Logger is the correlated structured logging contract used by all
// workers and adapters. Substitute via WithLogger.
type Logger = logging.Logger
