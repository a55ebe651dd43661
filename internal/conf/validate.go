package conf

import (
	"fmt"
	"math"
)

// Offline context construction limits
const (
	MinChannels   = 1
	MaxChannels   = 32
	MinSampleRate = 3000.0
	MaxSampleRate = 768000.0
)

// ValidationError collects every problem found in a Settings value
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateRenderSettings(&settings.Render); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateBridgeSettings(&settings.Bridge); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry is enabled but no Sentry DSN is configured")
	}

	if settings.Metrics.Enabled && settings.Metrics.Listen == "" {
		ve.Errors = append(ve.Errors, "metrics are enabled but no listen address is configured")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateRenderSettings(settings *RenderSettings) error {
	if settings.Channels < MinChannels || settings.Channels > MaxChannels {
		return fmt.Errorf("render channels must be between %d and %d, got %d", MinChannels, MaxChannels, settings.Channels)
	}

	if settings.Length < 1 {
		return fmt.Errorf("render length must be at least 1 frame, got %d", settings.Length)
	}

	if settings.SampleRate < MinSampleRate || settings.SampleRate > MaxSampleRate {
		return fmt.Errorf("render sample rate must be between %g and %g Hz, got %g", MinSampleRate, MaxSampleRate, settings.SampleRate)
	}

	if settings.Tone.Enabled {
		nyquist := settings.SampleRate / 2
		if settings.Tone.Frequency <= 0 || settings.Tone.Frequency >= nyquist {
			return fmt.Errorf("tone frequency must be between 0 and %g Hz, got %g", nyquist, settings.Tone.Frequency)
		}
		if settings.Tone.Gain < 0 || settings.Tone.Gain > 1 {
			return fmt.Errorf("tone gain must be between 0 and 1, got %g", settings.Tone.Gain)
		}
	}

	for _, at := range settings.Suspend {
		if at < 0 || math.IsNaN(at) || math.IsInf(at, 0) {
			return fmt.Errorf("suspend time must be a non-negative number of seconds, got %g", at)
		}
	}

	if settings.Output != "" {
		return validateBitDepth(settings.BitDepth)
	}

	return nil
}

func validateBridgeSettings(settings *BridgeSettings) error {
	if settings.QueueLimit < 0 {
		return fmt.Errorf("bridge queue limit cannot be negative, got %d", settings.QueueLimit)
	}
	if settings.MaxBufferBytes < 0 {
		return fmt.Errorf("bridge max buffer bytes cannot be negative, got %d", settings.MaxBufferBytes)
	}
	if settings.DropLogRate <= 0 {
		return fmt.Errorf("bridge drop log rate must be positive, got %g", settings.DropLogRate)
	}
	if settings.DropLogBurst < 1 {
		return fmt.Errorf("bridge drop log burst must be at least 1, got %d", settings.DropLogBurst)
	}
	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("bit depth must be 16, 24 or 32, got %d", bitDepth)
	}
}
