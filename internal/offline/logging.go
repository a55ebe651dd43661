package offline

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the offline context logger
func GetLogger() logger.Logger {
	return logger.Global().Module("offline")
}
