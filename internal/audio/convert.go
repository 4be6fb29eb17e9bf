package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BytesPerSample is the size of one float32 sample on the wire.
const BytesPerSample = 4

// Float32FromLE decodes little-endian IEEE-754 float32 samples. A trailing
// partial sample is ignored.
func Float32FromLE(data []byte) []float32 {
	n := len(data) / BytesPerSample
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerSample:]))
	}
	return out
}

// ErrMisaligned reports a float32 payload whose length is not a whole number
// of samples.
var ErrMisaligned = errors.New("payload is not a whole number of float32 samples")

// Float32FromLEStrict is Float32FromLE for complete payloads: it fails
// instead of ignoring a trailing partial sample.
func Float32FromLEStrict(data []byte) ([]float32, error) {
	if rem := len(data) % BytesPerSample; rem != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMisaligned, rem)
	}
	return Float32FromLE(data), nil
}

// Float32ToLE encodes samples as little-endian float32 bytes.
func Float32ToLE(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*BytesPerSample:], math.Float32bits(s))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to samples in
// [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Downmix averages interleaved frames into mono. With one channel the input
// slice is returned as is.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Normalize scales samples so their RMS sits at targetDBFS, then clips to
// [-1, 1]. Silent input is only clipped.
func Normalize(samples []float32, targetDBFS float64) []float32 {
	out := make([]float32, len(samples))
	scale := 1.0
	if rms := RMS(samples); rms > 0 {
		scale = math.Pow(10, targetDBFS/20) / rms
	}
	for i, s := range samples {
		v := float64(s) * scale
		out[i] = float32(max(-1, min(1, v)))
	}
	return out
}
