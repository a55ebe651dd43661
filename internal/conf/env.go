// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "WEBAUDIO_DEBUG", validateEnvBool},

		{"render.channels", "WEBAUDIO_RENDER_CHANNELS", validateEnvIntRange(MinChannels, MaxChannels)},
		{"render.length", "WEBAUDIO_RENDER_LENGTH", validateEnvIntRange(1, maxInt)},
		{"render.samplerate", "WEBAUDIO_RENDER_SAMPLERATE", validateEnvFloatRange(MinSampleRate, MaxSampleRate)},
		{"render.output", "WEBAUDIO_RENDER_OUTPUT", nil},
		{"render.bitdepth", "WEBAUDIO_RENDER_BITDEPTH", validateEnvBitDepth},

		{"bridge.queuelimit", "WEBAUDIO_BRIDGE_QUEUELIMIT", validateEnvIntRange(0, maxInt)},
		{"bridge.maxbufferbytes", "WEBAUDIO_BRIDGE_MAXBUFFERBYTES", validateEnvIntRange(0, maxInt)},

		{"logging.defaultlevel", "WEBAUDIO_LOG_LEVEL", validateEnvLogLevel},

		{"telemetry.enabled", "WEBAUDIO_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "WEBAUDIO_SENTRY_DSN", nil},

		{"metrics.enabled", "WEBAUDIO_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "WEBAUDIO_METRICS_LISTEN", nil},
	}
}

const maxInt = int(^uint(0) >> 1)

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvIntRange(lower, upper int) func(string) error {
	return func(value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		if n < lower || n > upper {
			return fmt.Errorf("must be between %d and %d, got %d", lower, upper, n)
		}
		return nil
	}
}

func validateEnvFloatRange(lower, upper float64) func(string) error {
	return func(value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		if f < lower || f > upper {
			return fmt.Errorf("must be between %g and %g, got %g", lower, upper, f)
		}
		return nil
	}
}

func validateEnvBitDepth(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	return validateBitDepth(n)
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", value)
	}
}
