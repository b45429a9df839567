package capture

import "github.com/braid-data/optocapture/internal/monitoring"

// defaultLogf routes engine diagnostics through the redirectable package
// logger so benchmarks and tests can mute the hot path.
func defaultLogf(format string, v ...any) {
	monitoring.Logf(format, v...)
}
