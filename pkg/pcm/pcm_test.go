package pcm

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// samples builds a PCM16LE byte slice from int16 values.
func samples(vals ...int16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// decode reads PCM16LE bytes back into int16 values.
func decode(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func TestMixGain(t *testing.T) {
	tests := []struct {
		name         string
		a, b         []byte
		gainA, gainB float64
		want         []int16
	}{
		{
			name:  "unity mix",
			a:     samples(100, 200),
			b:     samples(50, -50),
			gainA: 1.0, gainB: 1.0,
			want: []int16{150, 150},
		},
		{
			name:  "tts attenuated under mic",
			a:     samples(1000, 1000),
			b:     samples(1000, 1000),
			gainA: 1.0, gainB: 0.8,
			want: []int16{1800, 1800},
		},
		{
			name:  "shorter input pads with silence",
			a:     samples(100, 100, 100),
			b:     samples(10),
			gainA: 1.0, gainB: 1.0,
			want: []int16{110, 100, 100},
		},
		{
			name:  "clamps positive overflow",
			a:     samples(30000),
			b:     samples(30000),
			gainA: 1.0, gainB: 1.0,
			want: []int16{32767},
		},
		{
			name:  "clamps negative overflow",
			a:     samples(-30000),
			b:     samples(-30000),
			gainA: 1.0, gainB: 1.0,
			want: []int16{-32768},
		},
		{
			name:  "nil second input",
			a:     samples(42),
			b:     nil,
			gainA: 0.5, gainB: 0.8,
			want: []int16{21},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decode(MixGain(tt.a, tt.gainA, tt.b, tt.gainB))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate returns input unchanged", func(t *testing.T) {
		in := samples(1, 2, 3)
		out := ResampleMono16(in, 16000, 16000)
		if !bytes.Equal(in, out) {
			t.Errorf("expected identical output")
		}
	})

	t.Run("halving rate halves sample count", func(t *testing.T) {
		in := make([]byte, 16000*2) // 1 second at 16 kHz
		out := ResampleMono16(in, 16000, 8000)
		if len(out) != 8000*2 {
			t.Errorf("got %d bytes, want %d", len(out), 8000*2)
		}
	})

	t.Run("doubling rate doubles sample count", func(t *testing.T) {
		in := samples(0, 100, 200, 300)
		out := ResampleMono16(in, 8000, 16000)
		if len(out) != len(in)*2 {
			t.Errorf("got %d bytes, want %d", len(out), len(in)*2)
		}
	})
}

func TestEncodeWAV(t *testing.T) {
	pcm := samples(1, 2, 3, 4)
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q %q", wav[0:4], wav[8:12])
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("got %d bytes, want %d", len(wav), 44+len(pcm))
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", sampleRate)
	}
	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	if int(dataLen) != len(pcm) {
		t.Errorf("data length: got %d, want %d", dataLen, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Errorf("payload mismatch")
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(samples(1), 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]byte{1}, 16000); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestDuration(t *testing.T) {
	pcm := make([]byte, 16000*2)
	if d := Duration(pcm, 16000); d != 1.0 {
		t.Errorf("got %v, want 1.0", d)
	}
	if d := Duration(pcm, 0); d != 0 {
		t.Errorf("got %v, want 0 for invalid rate", d)
	}
}

func TestSilence(t *testing.T) {
	s := Silence(0.5, 16000)
	if len(s) != 8000*2 {
		t.Errorf("got %d bytes, want %d", len(s), 8000*2)
	}
	for _, b := range s {
		if b != 0 {
			t.Fatal("silence must be all zero")
		}
	}
	if Silence(-1, 16000) != nil {
		t.Error("negative duration should return nil")
	}
}
