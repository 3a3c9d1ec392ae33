package stt

import (
	"math"
	"time"

	"github.com/go-audio/audio"
)

// Calibration parameters mirror the classic energy-threshold recognizer: start from a
// fixed threshold and pull it toward 1.5x the ambient RMS of each 1024-sample frame,
// damped by how much time the frame covers.
const (
	initialEnergyThreshold = 300.0
	thresholdDamping       = 0.15
	thresholdRatio         = 1.5
	calibrationFrame       = 1024
)

// Calibration is the ambient-noise measurement taken from the head of a clip.
type Calibration struct {
	Window          time.Duration // audio consumed by calibration
	AmbientRMS      float64       // mean frame RMS of the window, 16-bit scale
	EnergyThreshold float64       // speech/no-speech energy boundary after adjustment
}

// Calibrate measures ambient noise over the leading window of buf and returns the
// measurement plus the remainder of the clip, which is what gets transcribed. buf is
// interleaved PCM; the window is rounded down to whole frames of all channels.
func Calibrate(buf *audio.IntBuffer, window time.Duration) (Calibration, *audio.IntBuffer) {
	cal := Calibration{EnergyThreshold: initialEnergyThreshold}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return cal, buf
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	rate := buf.Format.SampleRate
	scale := sampleScale(buf.SourceBitDepth)

	windowSamples := int(window.Seconds()*float64(rate)) * channels
	if windowSamples > len(buf.Data) {
		windowSamples = len(buf.Data) - len(buf.Data)%channels
	}

	secondsPerFrame := float64(calibrationFrame) / float64(rate)
	damping := math.Pow(thresholdDamping, secondsPerFrame)
	var rmsSum float64
	var frames int
	step := calibrationFrame * channels
	for start := 0; start < windowSamples; start += step {
		end := start + step
		if end > windowSamples {
			end = windowSamples
		}
		energy := rms(buf.Data[start:end], scale)
		rmsSum += energy
		frames++
		cal.EnergyThreshold = cal.EnergyThreshold*damping + energy*thresholdRatio*(1-damping)
	}
	if frames > 0 {
		cal.AmbientRMS = rmsSum / float64(frames)
	}
	cal.Window = time.Duration(float64(windowSamples/channels) / float64(rate) * float64(time.Second))

	rest := &audio.IntBuffer{
		Format:         buf.Format,
		Data:           buf.Data[windowSamples:],
		SourceBitDepth: buf.SourceBitDepth,
	}
	return cal, rest
}

// rms of samples expressed on the 16-bit scale.
func rms(samples []int, scale float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) * scale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// sampleScale maps samples of the given bit depth onto the 16-bit range.
func sampleScale(bitDepth int) float64 {
	if bitDepth <= 0 || bitDepth == 16 {
		return 1
	}
	return math.Pow(2, float64(16-bitDepth))
}
