package audio

import "math"

// SilenceThreshold is the RMS level below which 16-bit audio counts as silence
const SilenceThreshold = 500.0

// Samples decodes 16-bit little-endian PCM. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DetectSilence reports whether samples stay under threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}

// Stats describes an inbound audio payload for logging
type Stats struct {
	WAV        bool
	SampleRate uint32
	Duration   float64 // seconds, WAV only
	RMS        float64 // 16-bit WAV only
	Silent     bool
}

// Analyze inspects a payload. Only 16-bit WAV data gets a level; other
// encodings are reported as-is.
func Analyze(data []byte) Stats {
	var stats Stats
	if !IsWAV(data) {
		return stats
	}
	info, err := Inspect(data)
	if err != nil {
		return stats
	}

	stats.WAV = true
	stats.SampleRate = info.SampleRate
	stats.Duration = info.Duration

	if info.BitsPerSample == 16 {
		pcm := data[headerSize:]
		if int(info.DataSize) < len(pcm) {
			pcm = pcm[:info.DataSize]
		}
		samples := Samples(pcm)
		stats.RMS = CalculateRMS(samples)
		stats.Silent = DetectSilence(samples, SilenceThreshold)
	}
	return stats
}
