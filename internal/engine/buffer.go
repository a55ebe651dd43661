package engine

// AudioBuffer holds rendered PCM as planar float32 channels
type AudioBuffer struct {
	channels   [][]float32
	sampleRate float32
}

// NewAudioBuffer allocates a silent buffer
func NewAudioBuffer(numberOfChannels, length int, sampleRate float32) *AudioBuffer {
	channels := make([][]float32, numberOfChannels)
	for i := range channels {
		channels[i] = make([]float32, length)
	}
	return &AudioBuffer{channels: channels, sampleRate: sampleRate}
}

// NumberOfChannels returns the channel count
func (b *AudioBuffer) NumberOfChannels() int {
	return len(b.channels)
}

// Length returns the number of sample frames per channel
func (b *AudioBuffer) Length() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// SampleRate returns the sample rate in Hz
func (b *AudioBuffer) SampleRate() float32 {
	return b.sampleRate
}

// Duration returns the buffer duration in seconds
func (b *AudioBuffer) Duration() float64 {
	if b.sampleRate <= 0 {
		return 0
	}
	return float64(b.Length()) / float64(b.sampleRate)
}

// Channel returns the samples of channel i. The slice aliases the buffer.
func (b *AudioBuffer) Channel(i int) []float32 {
	return b.channels[i]
}
