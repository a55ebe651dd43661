package engine

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the engine logger
func GetLogger() logger.Logger {
	return logger.Global().Module("engine")
}
