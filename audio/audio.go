// Package audio decodes speech recordings into float64 samples.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnsupportedFormat is returned for containers or encodings the decoders
// do not handle.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Header describes decoded audio. NumSamples counts mono samples after
// channel mixdown.
type Header struct {
	SampleRate    int
	NumChannels   int
	BitsPerSample int
	NumSamples    int
}

// Duration returns the length of the audio in seconds.
func (h Header) Duration() float64 {
	if h.SampleRate == 0 {
		return 0
	}
	return float64(h.NumSamples) / float64(h.SampleRate)
}

// Read decodes a RIFF/WAV or NIST SPHERE stream, chosen by its magic bytes.
func Read(r io.ReadSeeker) ([]float64, Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, Header{}, fmt.Errorf("read magic: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, Header{}, err
	}
	switch {
	case bytes.Equal(magic[:], []byte("RIFF")):
		return ReadWAV(r)
	case bytes.Equal(magic[:], []byte("NIST")):
		return ReadSphere(r)
	}
	return nil, Header{}, fmt.Errorf("%w: magic %q", ErrUnsupportedFormat, magic[:])
}

// ReadFile opens path and decodes it with Read.
func ReadFile(path string) ([]float64, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	samples, h, err := Read(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return samples, h, nil
}
