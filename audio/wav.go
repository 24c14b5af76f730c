package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// ReadWAV reads a 16-bit PCM RIFF/WAV stream and returns samples in
// [-1.0, 1.0]. Multi-channel audio is mixed down to mono by averaging.
func ReadWAV(r io.ReadSeeker) ([]float64, Header, error) {
	var h Header

	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, h, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, h, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var haveFmt bool
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, h, fmt.Errorf("read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			if err := readFmt(r, chunk.Size, &h); err != nil {
				return nil, h, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, h, errors.New("data chunk before fmt chunk")
			}
			return readPCM16(r, binary.LittleEndian, int(chunk.Size), &h)
		default:
			skip := int64(chunk.Size) + int64(chunk.Size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, h, fmt.Errorf("skip chunk %q: %w", chunk.ID, err)
			}
		}
	}
	if !haveFmt {
		return nil, h, errors.New("missing fmt chunk")
	}
	return nil, h, errors.New("missing data chunk")
}

func readFmt(r io.ReadSeeker, size uint32, h *Header) error {
	var f struct {
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}
	if size < 16 {
		return fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedFormat, size)
	}
	if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
		return fmt.Errorf("read fmt chunk: %w", err)
	}
	if f.Format != wavFormatPCM && f.Format != wavFormatExtensible {
		return fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, f.Format)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, f.BitsPerSample)
	}
	if f.Channels == 0 || f.SampleRate == 0 {
		return fmt.Errorf("%w: %d channels at %dHz", ErrUnsupportedFormat, f.Channels, f.SampleRate)
	}
	h.SampleRate = int(f.SampleRate)
	h.NumChannels = int(f.Channels)
	h.BitsPerSample = int(f.BitsPerSample)

	if extra := int64(size) - 16 + int64(size%2); extra > 0 {
		if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
			return fmt.Errorf("skip extra fmt bytes: %w", err)
		}
	}
	return nil
}

// readPCM16 reads size bytes of interleaved 16-bit samples and mixes them
// down to mono. A truncated final frame is dropped.
func readPCM16(r io.Reader, order binary.ByteOrder, size int, h *Header) ([]float64, Header, error) {
	frames := size / (2 * h.NumChannels)
	raw := make([]int16, frames*h.NumChannels)
	if err := binary.Read(r, order, raw); err != nil {
		return nil, *h, fmt.Errorf("read PCM data: %w", err)
	}
	h.NumSamples = frames

	samples := make([]float64, frames)
	scale := 1 / (32768.0 * float64(h.NumChannels))
	for i := range samples {
		sum := 0.0
		for c := 0; c < h.NumChannels; c++ {
			sum += float64(raw[i*h.NumChannels+c])
		}
		samples[i] = sum * scale
	}
	return samples, *h, nil
}

// WriteWAV writes mono samples as a 16-bit PCM WAV stream, clipping to
// [-1.0, 1.0].
func WriteWAV(w io.Writer, samples []float64, sampleRate int) error {
	dataSize := uint32(2 * len(samples))
	hdr := struct {
		RIFF          [4]byte
		Size          uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF: [4]byte{'R', 'I', 'F', 'F'}, Size: 36 + dataSize, WAVE: [4]byte{'W', 'A', 'V', 'E'},
		Fmt: [4]byte{'f', 'm', 't', ' '}, FmtSize: 16, Format: wavFormatPCM, Channels: 1,
		SampleRate: uint32(sampleRate), ByteRate: uint32(2 * sampleRate), BlockAlign: 2, BitsPerSample: 16,
		Data: [4]byte{'d', 'a', 't', 'a'}, DataSize: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(math.Round(math.Max(-1, math.Min(1, s)) * 32767))
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("write PCM data: %w", err)
	}
	return nil
}
