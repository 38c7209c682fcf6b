// Package logging holds the module-wide logger.
package logging

import (
	"os"

	"github.com/op/go-logging"
)

// Log is the shared logger; library code reports through it and leaves
// backend setup to the application.
var Log = logging.MustGetLogger("mcp3008")

var format = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{level:.4s} %{module} ▶ %{message}%{color:reset}",
)

var leveled logging.LeveledBackend

// Initialize installs a formatted stderr backend at INFO level.
// Applications call it once at startup; without it go-logging's default
// backend applies.
func Initialize() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled = logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.INFO, "")
	logging.SetBackend(leveled)
}

// SetLevel adjusts the backend level from a name such as "DEBUG".
func SetLevel(level string) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		Log.Warningf("invalid logging level %q, keeping current", level)
		return
	}
	if leveled != nil {
		leveled.SetLevel(lvl, "")
	}
}
