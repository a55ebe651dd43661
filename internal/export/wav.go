// Package export writes rendered buffers to audio files.
package export

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/logger"
)

const componentExport = "export"

// PCMSource is a planar float buffer. offline.HostBuffer implements it.
type PCMSource interface {
	NumberOfChannels() int
	Length() int
	SampleRate() float32
	GetChannelData(i int) ([]float32, error)
}

// ErrUnsupportedBitDepth is returned for bit depths other than 16, 24 and 32
var ErrUnsupportedBitDepth = errors.New(errors.NewStd("unsupported WAV bit depth")).
	Component(componentExport).
	Category(errors.CategoryValidation).
	Build()

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag
const wavFormatPCM = 1

// EncodeWAV writes src to w as integer PCM WAV data
func EncodeWAV(w io.WriteSeeker, src PCMSource, bitDepth int) error {
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return errors.New(ErrUnsupportedBitDepth).
			Component(componentExport).
			Category(errors.CategoryValidation).
			Context("bit_depth", bitDepth).
			Build()
	}

	channels, length := src.NumberOfChannels(), src.Length()
	sampleRate := int(src.SampleRate())

	data, err := interleave(src, channels, length, bitDepth)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "wav_encode").
			Build()
	}
	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "wav_finalize").
			Build()
	}
	return nil
}

// interleave converts planar float samples in [-1, 1] to interleaved integers
func interleave(src PCMSource, channels, length, bitDepth int) ([]int, error) {
	scale := float64(int64(1)<<(bitDepth-1) - 1)
	data := make([]int, channels*length)

	for ch := range channels {
		samples, err := src.GetChannelData(ch)
		if err != nil {
			return nil, err
		}
		for i, s := range samples[:length] {
			v := float64(s)
			if math.IsNaN(v) {
				v = 0
			}
			v = math.Max(-1, math.Min(1, v))
			data[i*channels+ch] = int(math.Round(v * scale))
		}
	}
	return data, nil
}

// WriteWAV writes src to path, creating parent directories as needed.
// The file is written to a temporary name first and renamed on success.
func WriteWAV(path string, src PCMSource, bitDepth int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "create_directory").
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".webaudio-*.wav")
	if err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			Build()
	}
	tmpName := tmp.Name()

	if err := EncodeWAV(tmp, src, bitDepth); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "close_file").
			Build()
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "rename_file").
			Build()
	}

	logger.Global().Module("export").Info("wav file written",
		logger.String("path", path),
		logger.Int("channels", src.NumberOfChannels()),
		logger.Int("frames", src.Length()),
		logger.Int("bit_depth", bitDepth))
	return nil
}
