package audioio

import (
	"math"
	"time"
)

// Sine generates a mono 16-bit sine tone. amplitude is in [0, 1].
func Sine(freq, amplitude float64, sampleRate int, d time.Duration) Buffer {
	n := frameCount(sampleRate, d)
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		samples[i] = floatToSample(v)
	}
	return FromSamples(samples, sampleRate, 1)
}

// Silence generates a mono 16-bit buffer of zeros.
func Silence(sampleRate int, d time.Duration) Buffer {
	n := frameCount(sampleRate, d)
	return NewPCM16(make([]byte, n*2), sampleRate, 1)
}

func frameCount(sampleRate int, d time.Duration) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
