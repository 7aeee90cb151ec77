package config

import (
	"os"
	"strings"
)

// CleanupFloorMode controls what "execute" does to a staged balance:
// the default zeroes it; "floor" reduces it to the job's min-quantity
// threshold instead.
//
// Set via env:
// - CLEANUP_FLOOR_MODE=floor
func CleanupFloorMode() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CLEANUP_FLOOR_MODE")))
	return v == "floor"
}

// DebugEnabled reports whether a per-feature debug env flag is on,
// e.g. DebugEnabled("DEBUG_TRANSFER").
func DebugEnabled(envKey string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
