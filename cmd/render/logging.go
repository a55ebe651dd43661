package render

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the render command logger
func GetLogger() logger.Logger {
	return logger.Global().Module("render")
}
