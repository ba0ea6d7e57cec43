package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const headerSize = 44

// PCMFormat describes raw little-endian PCM audio
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is what the recognizer expects and the synthesizer produces
var DefaultFormat = PCMFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func (f PCMFormat) validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("unsupported bit depth: %d", f.BitsPerSample)
	}
	return nil
}

// wavHeader is the canonical 44-byte RIFF/WAVE header
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WrapPCM prepends a WAV header to raw PCM bytes
func WrapPCM(pcm []byte, format PCMFormat) ([]byte, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}

	dataSize := uint32(len(pcm))
	blockAlign := uint16(format.Channels * format.BitsPerSample / 8)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// IsWAV reports whether data starts with a RIFF tag
func IsWAV(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == "RIFF"
}

// EnsureWAV returns data unchanged when it is already a RIFF container,
// otherwise treats it as raw PCM in the given format and wraps it.
func EnsureWAV(data []byte, format PCMFormat) ([]byte, error) {
	if IsWAV(data) {
		return data, nil
	}
	return WrapPCM(data, format)
}

// WAVInfo is the metadata read back from a WAV header
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	DataSize      uint32  `json:"data_size_bytes"`
	Duration      float64 `json:"duration_seconds"`
}

// Inspect parses the header of a canonical 44-byte WAV file
func Inspect(data []byte) (*WAVInfo, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", headerSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	info := &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		DataSize:      header.Subchunk2Size,
	}
	if header.ByteRate > 0 {
		info.Duration = float64(header.Subchunk2Size) / float64(header.ByteRate)
	}

	return info, nil
}
