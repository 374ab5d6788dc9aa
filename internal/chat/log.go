package chat

import (
	"io"
	"log"
	"os"
)

// debugLog receives per-frame tracing. It is silent unless SetDebug is
// called.
var debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)

// SetDebug toggles per-frame tracing on stderr.
func SetDebug(enabled bool) {
	if enabled {
		debugLog.SetOutput(os.Stderr)
		return
	}
	debugLog.SetOutput(io.Discard)
}
