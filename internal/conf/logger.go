package conf

import "github.com/tphakala/webaudio-go/internal/logger"

// GetLogger returns the config package logger. It is fetched on each call so
// it follows a central logger installed after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
