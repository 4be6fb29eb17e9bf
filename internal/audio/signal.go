// Package audio holds the sample-level building blocks of the capture
// pipeline: the bounded recording buffer, silence trimming, the energy-based
// voice gate, and conversions between wire formats and mono float32 samples.
package audio

import "math"

// Trim removes leading and trailing samples whose magnitude does not exceed
// threshold, keeping margin samples of context on each side (clamped to the
// signal bounds).
//
// If no sample exceeds threshold the input is returned unchanged: an
// all-silent recording is passed through untrimmed rather than emptied.
func Trim(samples []float32, threshold float64, margin int) []float32 {
	if margin < 0 {
		margin = 0
	}
	start := 0
	for i, s := range samples {
		if math.Abs(float64(s)) > threshold {
			start = max(0, i-margin)
			break
		}
	}
	end := len(samples)
	for i := len(samples) - 1; i >= 0; i-- {
		if math.Abs(float64(samples[i])) > threshold {
			end = min(len(samples), i+margin)
			break
		}
	}
	if end < start {
		return samples[:0]
	}
	return samples[start:end]
}

// MarginSamples converts a trim margin in milliseconds to a sample count.
func MarginSamples(sampleRate, marginMS int) int {
	return sampleRate * marginMS / 1000
}

// RMS returns the root-mean-square energy of samples, or 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// MeanAbs returns the mean absolute amplitude, used as the audio level.
func MeanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// HasVoice reports whether the RMS energy of samples exceeds threshold.
func HasVoice(samples []float32, threshold float64) bool {
	return RMS(samples) > threshold
}

// Duration returns the length of samples in seconds at sampleRate.
func Duration(samples []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(sampleRate)
}
