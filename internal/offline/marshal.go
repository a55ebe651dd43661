package offline

import (
	"math"

	"github.com/tphakala/webaudio-go/internal/engine"
	"github.com/tphakala/webaudio-go/internal/errors"
)

const bytesPerSample = 4

// HostBuffer is the host-side copy of a rendered buffer. It shares no memory
// with the engine.
type HostBuffer struct {
	sampleRate float32
	channels   [][]float32
}

// NumberOfChannels returns the channel count
func (b *HostBuffer) NumberOfChannels() int {
	return len(b.channels)
}

// Length returns the number of sample frames
func (b *HostBuffer) Length() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// SampleRate returns the sample rate in Hz
func (b *HostBuffer) SampleRate() float32 {
	return b.sampleRate
}

// Duration returns the duration in seconds
func (b *HostBuffer) Duration() float64 {
	return float64(b.Length()) / float64(b.sampleRate)
}

// GetChannelData returns the samples of channel i
func (b *HostBuffer) GetChannelData(i int) ([]float32, error) {
	if i < 0 || i >= len(b.channels) {
		return nil, errors.New(ErrChannelIndex).
			Component(componentOffline).
			Category(errors.CategoryValidation).
			Context("channel", i).
			Context("channels", len(b.channels)).
			Build()
	}
	return b.channels[i], nil
}

// CopyFromChannel copies channel i starting at frame offset into dst and
// returns the number of samples copied.
func (b *HostBuffer) CopyFromChannel(dst []float32, i, offset int) (int, error) {
	data, err := b.GetChannelData(i)
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset > len(data) {
		return 0, errors.Newf("offset %d outside channel of %d frames", offset, len(data)).
			Component(componentOffline).
			Category(errors.CategoryValidation).
			Build()
	}
	return copy(dst, data[offset:]), nil
}

// Marshaller converts engine buffers into host buffers
type Marshaller struct {
	// MaxBytes bounds the size of a host buffer; zero disables the check
	MaxBytes int64
}

// Marshal copies buf into a new HostBuffer
func (m Marshaller) Marshal(buf *engine.AudioBuffer) (*HostBuffer, error) {
	if buf == nil {
		return nil, ErrNoBuffer
	}

	channels, length := buf.NumberOfChannels(), buf.Length()
	size, ok := bufferBytes(channels, length)
	if !ok || (m.MaxBytes > 0 && size > m.MaxBytes) {
		return nil, errors.New(ErrBufferTooLarge).
			Component(componentOffline).
			Category(errors.CategoryMarshalling).
			Context("channels", channels).
			Context("length", length).
			Context("max_bytes", m.MaxBytes).
			Build()
	}

	out := &HostBuffer{
		sampleRate: buf.SampleRate(),
		channels:   make([][]float32, channels),
	}
	for i := range channels {
		out.channels[i] = append([]float32(nil), buf.Channel(i)...)
	}
	return out, nil
}

// bufferBytes returns the size of a float32 buffer, reporting overflow
func bufferBytes(channels, length int) (int64, bool) {
	if channels <= 0 || length <= 0 {
		return 0, true
	}
	perChannel := int64(length) * bytesPerSample
	if int64(length) > math.MaxInt64/bytesPerSample || perChannel > math.MaxInt64/int64(channels) {
		return 0, false
	}
	return perChannel * int64(channels), true
}
