package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWrapPCM(t *testing.T) {
	pcm := make([]byte, 32000) // 1 second at 16kHz mono 16-bit
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	wav, err := WrapPCM(pcm, DefaultFormat)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected length %d, got %d", 44+len(pcm), len(wav))
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("Missing RIFF/WAVE tags")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Errorf("Missing fmt/data chunk ids")
	}

	checks := []struct {
		name   string
		offset int
		size   int
		want   uint32
	}{
		{"chunk size", 4, 4, uint32(36 + len(pcm))},
		{"fmt size", 16, 4, 16},
		{"format tag", 20, 2, 1},
		{"channels", 22, 2, 1},
		{"sample rate", 24, 4, 16000},
		{"byte rate", 28, 4, 32000},
		{"block align", 32, 2, 2},
		{"bits per sample", 34, 2, 16},
		{"data size", 40, 4, uint32(len(pcm))},
	}

	for _, c := range checks {
		var got uint32
		if c.size == 2 {
			got = uint32(binary.LittleEndian.Uint16(wav[c.offset:]))
		} else {
			got = binary.LittleEndian.Uint32(wav[c.offset:])
		}
		if got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}

	if !bytes.Equal(wav[44:], pcm) {
		t.Errorf("PCM payload was altered")
	}
}

func TestWrapPCM_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		format PCMFormat
	}{
		{"zero rate", PCMFormat{SampleRate: 0, Channels: 1, BitsPerSample: 16}},
		{"zero channels", PCMFormat{SampleRate: 16000, Channels: 0, BitsPerSample: 16}},
		{"odd bit depth", PCMFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapPCM([]byte{0, 0}, tt.format); err == nil {
				t.Errorf("Expected error for %+v", tt.format)
			}
		})
	}
}

func TestEnsureWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav, err := EnsureWAV(pcm, DefaultFormat)
	if err != nil {
		t.Fatalf("EnsureWAV failed: %v", err)
	}
	if !IsWAV(wav) {
		t.Fatalf("Expected wrapped output to be WAV")
	}

	again, err := EnsureWAV(wav, DefaultFormat)
	if err != nil {
		t.Fatalf("EnsureWAV failed on WAV input: %v", err)
	}
	if !bytes.Equal(again, wav) {
		t.Errorf("Expected WAV input to pass through unchanged")
	}
}

func TestInspect(t *testing.T) {
	format := PCMFormat{SampleRate: 8000, Channels: 2, BitsPerSample: 16}
	wav, err := WrapPCM(make([]byte, 16000), format)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}

	info, err := Inspect(wav)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}

	if info.SampleRate != 8000 || info.Channels != 2 || info.BitsPerSample != 16 {
		t.Errorf("Unexpected format: %+v", info)
	}
	if info.DataSize != 16000 {
		t.Errorf("Expected data size 16000, got %d", info.DataSize)
	}
	if info.Duration != 0.5 {
		t.Errorf("Expected duration 0.5s, got %f", info.Duration)
	}
}

func TestInspect_Invalid(t *testing.T) {
	if _, err := Inspect([]byte("RIFF")); err == nil {
		t.Error("Expected error for short data")
	}

	bogus := make([]byte, 44)
	copy(bogus, "JUNK")
	if _, err := Inspect(bogus); err == nil {
		t.Error("Expected error for missing RIFF tag")
	}
}
