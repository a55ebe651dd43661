package engine

import "math"

// Source produces a mono signal. Render fills out with the samples for the
// frames starting at startFrame.
type Source interface {
	Render(startFrame int, sampleRate float64, out []float64)
}

// SineSource is an oscillator at a fixed frequency with unit amplitude
type SineSource struct {
	Frequency float64
}

// Render implements Source
func (s SineSource) Render(startFrame int, sampleRate float64, out []float64) {
	step := 2 * math.Pi * s.Frequency / sampleRate
	for i := range out {
		out[i] = math.Sin(step * float64(startFrame+i))
	}
}

// ConstantSource outputs a constant value
type ConstantSource struct {
	Value float64
}

// Render implements Source
func (c ConstantSource) Render(_ int, _ float64, out []float64) {
	for i := range out {
		out[i] = c.Value
	}
}

// mixInput is a source with its gain
type mixInput struct {
	src  Source
	gain float64
}
