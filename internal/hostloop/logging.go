package hostloop

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the host loop logger
func GetLogger() logger.Logger {
	return logger.Global().Module("hostloop")
}
