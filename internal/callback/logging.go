package callback

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the callback logger
func GetLogger() logger.Logger {
	return logger.Global().Module("callback")
}
