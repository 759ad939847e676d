package live

import (
	"log"
	"os"
	"strings"
)

var liveDebugEnabled = strings.EqualFold(os.Getenv("CLEARCHAT_LIVE_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if liveDebugEnabled {
		log.Printf(format, args...)
	}
}
