// Package pcm provides helpers for 16-bit little-endian PCM audio: gain
// mixing, resampling, and WAV encoding.
//
// The recording pipeline uses MixGain to lay the interviewer's synthesized
// speech under the candidate's microphone track before handing both to
// ffmpeg, and EncodeWAV to wrap raw PCM in a container ffmpeg accepts as an
// input.
package pcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Samples returns the number of int16 samples in pcm. Odd trailing bytes are
// ignored.
func Samples(pcm []byte) int { return len(pcm) / 2 }

// Duration returns the playback length in seconds of mono PCM at sampleRate.
func Duration(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(Samples(pcm)) / float64(sampleRate)
}

// MixGain mixes two mono PCM16LE streams sample by sample, applying a gain
// factor to each before summing. The output length is the longer of the two
// inputs; the shorter input contributes silence past its end. Sums are
// clamped to the int16 range.
func MixGain(a []byte, gainA float64, b []byte, gainB float64) []byte {
	aSamples := len(a) / 2
	bSamples := len(b) / 2
	n := aSamples
	if bSamples > n {
		n = bSamples
	}

	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		var mixed float64
		if i < aSamples {
			mixed += gainA * float64(int16(a[i*2])|int16(a[i*2+1])<<8)
		}
		if i < bSamples {
			mixed += gainB * float64(int16(b[i*2])|int16(b[i*2+1])<<8)
		}

		s := int32(mixed)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ApplyGain scales mono PCM16LE by gain, clamping to the int16 range.
func ApplyGain(pcm []byte, gain float64) []byte {
	return MixGain(pcm, gain, nil, 0)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Silence returns n seconds of mono PCM16LE silence at sampleRate.
func Silence(seconds float64, sampleRate int) []byte {
	if seconds <= 0 || sampleRate <= 0 {
		return nil
	}
	return make([]byte, int(seconds*float64(sampleRate))*2)
}

// EncodeWAV wraps mono PCM16LE in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("pcm: invalid sample rate %d", sampleRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm: odd byte count %d", len(pcm))
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}
