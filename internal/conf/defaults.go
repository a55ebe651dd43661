// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/webaudio-go/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("render.channels", 2)
	viper.SetDefault("render.length", 44100)
	viper.SetDefault("render.samplerate", 44100.0)
	viper.SetDefault("render.tone.enabled", true)
	viper.SetDefault("render.tone.frequency", 440.0)
	viper.SetDefault("render.tone.gain", 0.5)
	viper.SetDefault("render.suspend", []float64{})
	viper.SetDefault("render.output", "")
	viper.SetDefault("render.bitdepth", 16)

	viper.SetDefault("bridge.queuelimit", 0)
	viper.SetDefault("bridge.maxbufferbytes", int64(0))
	viper.SetDefault("bridge.droplograte", 1.0)
	viper.SetDefault("bridge.droplogburst", 5)

	viper.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.fileoutput.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	viper.SetDefault("logging.fileoutput.level", logger.DefaultLogLevel)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9090")
}
