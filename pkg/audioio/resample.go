package audioio

// Resample converts int16 audio from one sample rate to another using linear
// interpolation. This is not band-limited: downsampling can alias. It is
// good enough for speech recognition input.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s) / 32768
	}
	out := resampleFloat(in, fromRate, toRate)
	return floatsToSamples(out)
}

// resampleFloat is the linear-interpolation core shared by Resample and Normalize.
func resampleFloat(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []float64{}
	}

	result := make([]float64, newLen)
	last := len(samples) - 1
	for i := range result {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= last {
			result[i] = samples[last]
			continue
		}
		frac := srcPos - float64(srcIdx)
		result[i] = samples[srcIdx] + frac*(samples[srcIdx+1]-samples[srcIdx])
	}
	return result
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// MonoToStereo duplicates mono samples to stereo.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, len(samples)*2)
	for i, s := range samples {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// StereoToMono averages stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

func floatsToSamples(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = floatToSample(v)
	}
	return out
}

func floatToSample(v float64) int16 {
	s := v * 32768
	switch {
	case s >= 32767:
		return 32767
	case s <= -32768:
		return -32768
	}
	return int16(s)
}
